package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/narwhal/types"
)

func TestBroadcastReachesAllPeers(t *testing.T) {
	net := NewNetwork()
	var a, b, c types.PublicKey
	a[0], b[0], c[0] = 1, 2, 3

	tA := NewInMemory(net, a)
	tB := NewInMemory(net, b)
	tC := NewInMemory(net, c)

	received := make(chan types.PublicKey, 2)
	tB.Handle("ping", func(ctx context.Context, from types.PublicKey, msg Message) (Message, error) {
		received <- from
		return Message{}, nil
	})
	tC.Handle("ping", func(ctx context.Context, from types.PublicKey, msg Message) (Message, error) {
		received <- from
		return Message{}, nil
	})

	require.NoError(t, tA.Broadcast(context.Background(), Message{Kind: "ping"}))
	require.Len(t, received, 2)
}

func TestRequestReturnsResponse(t *testing.T) {
	net := NewNetwork()
	var a, b types.PublicKey
	a[0], b[0] = 1, 2

	tA := NewInMemory(net, a)
	tB := NewInMemory(net, b)

	tB.Handle("echo", func(ctx context.Context, from types.PublicKey, msg Message) (Message, error) {
		return Message{Kind: "echo-reply", Payload: msg.Payload}, nil
	})

	resp, err := tA.Request(context.Background(), b, Message{Kind: "echo", Payload: []byte("hi")})
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), resp.Payload)
}

func TestRequestToUnknownPeerErrors(t *testing.T) {
	net := NewNetwork()
	var a, ghost types.PublicKey
	a[0], ghost[0] = 1, 0xFF
	tA := NewInMemory(net, a)

	_, err := tA.Request(context.Background(), ghost, Message{Kind: "echo"})
	require.Error(t, err)
}

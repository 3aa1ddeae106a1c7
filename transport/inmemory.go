package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/narwhal/types"
)

// Network is a shared in-process rendezvous point for a set of peers
// talking over InMemory transports, standing in for a real networking
// stack in tests and local development.
type Network struct {
	mu    sync.Mutex
	peers map[types.PublicKey]*InMemory
}

func NewNetwork() *Network {
	return &Network{peers: make(map[types.PublicKey]*InMemory)}
}

func (n *Network) register(pk types.PublicKey, t *InMemory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[pk] = t
}

func (n *Network) others(self types.PublicKey) []*InMemory {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*InMemory
	for pk, t := range n.peers {
		if pk != self {
			out = append(out, t)
		}
	}
	return out
}

func (n *Network) peer(pk types.PublicKey) (*InMemory, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.peers[pk]
	return t, ok
}

// InMemory implements Transport by delivering messages synchronously
// through a shared Network. It is intended for tests, not production.
type InMemory struct {
	self types.PublicKey
	net  *Network

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewInMemory creates a transport for self and joins net.
func NewInMemory(net *Network, self types.PublicKey) *InMemory {
	t := &InMemory{self: self, net: net, handlers: make(map[string]HandlerFunc)}
	net.register(self, t)
	return t
}

func (t *InMemory) Handle(kind string, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = fn
}

func (t *InMemory) Broadcast(ctx context.Context, msg Message) error {
	for _, peer := range t.net.others(t.self) {
		if _, err := peer.deliver(ctx, t.self, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *InMemory) Request(ctx context.Context, peer types.PublicKey, msg Message) (Message, error) {
	dst, ok := t.net.peer(peer)
	if !ok {
		return Message{}, fmt.Errorf("transport: unknown peer %x", peer[:4])
	}
	return dst.deliver(ctx, t.self, msg)
}

func (t *InMemory) deliver(ctx context.Context, from types.PublicKey, msg Message) (Message, error) {
	t.mu.RLock()
	fn, ok := t.handlers[msg.Kind]
	t.mu.RUnlock()
	if !ok {
		return Message{}, nil
	}
	return fn(ctx, from, msg)
}

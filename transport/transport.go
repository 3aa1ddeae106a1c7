// Package transport defines the pluggable networking collaborator:
// fire-and-forget broadcast for header/vote/certificate gossip, and
// bounded request/response for sync catch-up, split into two halves to
// match the two distinct traffic patterns.
package transport

import (
	"context"

	"github.com/luxfi/narwhal/types"
)

// Message is an opaque, already-encoded payload tagged with a kind so a
// receiver can dispatch without decoding twice.
type Message struct {
	Kind    string
	Payload []byte
}

// Broadcaster fans a message out to every other committee member. It does
// not guarantee delivery; callers that need a response use Requester.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) error
}

// Requester sends one message to a specific peer and waits for its
// response, used for sync catch-up.
type Requester interface {
	Request(ctx context.Context, peer types.PublicKey, msg Message) (Message, error)
}

// Transport is the full collaborator surface a Primary or sync client
// needs.
type Transport interface {
	Broadcaster
	Requester

	// Handle registers a callback invoked for every inbound message of
	// the given kind, whether arriving via Broadcast or as a Request.
	// Handlers that return a non-nil response are replied to the
	// requester if the inbound message was a Request.
	Handle(kind string, fn HandlerFunc)
}

// HandlerFunc processes one inbound message and optionally produces a
// response (used only when the message arrived as a Request).
type HandlerFunc func(ctx context.Context, from types.PublicKey, msg Message) (Message, error)

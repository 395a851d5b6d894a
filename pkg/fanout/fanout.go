// Package fanout distributes applied deltas between server instances.
//
// Each server publishes every delta it applies to a channel keyed by
// document id; peer servers treat received payloads as remote deltas
// and re-broadcast them to their local subscribers only. Delivery has
// no ordering guarantee — the document core is commutative and
// idempotent, so order and duplicates do not matter for convergence.
// Payloads are not redelivered: the Redis bus reaches only subscribers
// connected at the moment of publication.
package fanout

import "context"

// DocChannel returns the fan-out channel name for a document.
func DocChannel(docID string) string { return "doc:" + docID }

// BroadcastChannel is the global channel for cross-server control
// payloads not tied to one document.
const BroadcastChannel = "broadcast"

// Handler consumes one payload from a subscribed channel. Payloads are
// opaque bytes; handlers must not retain the slice.
type Handler func(payload []byte)

// Subscription is an active channel subscription.
type Subscription interface {
	// Close stops delivery and releases the subscription.
	Close() error
}

// Bus is the fan-out boundary between server instances.
type Bus interface {
	// Publish sends payload to every subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler for channel until the subscription
	// is closed. Redis runs the handler on its own delivery goroutine;
	// Memory runs it on the publisher's goroutine.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)

	// Close releases the bus and every open subscription.
	Close() error
}

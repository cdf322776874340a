// Package bus provides the best-effort broadcast channel carrying
// every normalized trade message to live subscribers.
package bus

import "context"

// Bus is a fire-and-hose publish/subscribe channel. Delivery is
// best-effort and at-most-once: there is no backlog, so a subscriber
// connecting after a message was published never receives it. Every
// active subscriber receives every message.
type Bus interface {
	// Publish sends a payload to all current subscribers of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a stream of payloads for channel. The stop
	// function releases the subscription and closes the stream.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Package queue provides the durable hand-off buffer between the feed
// connector and the batch persister.
package queue

import "context"

// Queue is a FIFO-ish durable buffer of opaque serialized trades.
// Multiple producers and consumers may operate concurrently; ordering
// across producers is not guaranteed and not required, because the
// downstream write is idempotent. An item popped by a consumer that
// crashes before persisting is lost: at-most-once per pop is the
// queue's durability ceiling.
type Queue interface {
	// Push appends one item.
	Push(ctx context.Context, item []byte) error

	// Pop removes and returns the oldest available item without
	// blocking. ok is false when the queue is empty.
	Pop(ctx context.Context) (item []byte, ok bool, err error)

	// Len returns the number of pending items.
	Len(ctx context.Context) (int64, error)

	// Drain removes and returns every pending item.
	Drain(ctx context.Context) ([][]byte, error)
}

package queue

import (
	"context"
	"sync"
)

// Memory implements Queue with a mutex-guarded slice. Used by tests
// and the all-in-one development pipeline.
type Memory struct {
	mu    sync.Mutex
	items [][]byte
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{}
}

// Compile-time interface check.
var _ Queue = (*Memory)(nil)

// Push appends one item.
func (q *Memory) Push(_ context.Context, item []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := make([]byte, len(item))
	copy(cp, item)
	q.items = append(q.items, cp)
	return nil
}

// Pop removes the oldest item, if any.
func (q *Memory) Pop(_ context.Context) ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true, nil
}

// Len returns the pending item count.
func (q *Memory) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Drain removes and returns all pending items, oldest first.
func (q *Memory) Drain(_ context.Context) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items, nil
}

package bus

import (
	"context"
	"sync"
)

// subscriber buffer size; a subscriber that falls this far behind
// starts losing messages, matching the at-most-once contract.
const subscriberBuffer = 256

// Memory implements Bus with per-subscriber buffered channels. Used by
// tests and the all-in-one development pipeline.
type Memory struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan []byte
	next int
}

// NewMemory creates an in-memory bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan []byte)}
}

// Compile-time interface check.
var _ Bus = (*Memory)(nil)

// Publish delivers the payload to every current subscriber. A slow
// subscriber's message is dropped, never blocking the publisher.
func (b *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- cp:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the channel.
func (b *Memory) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan []byte)
	}
	id := b.next
	b.next++
	b.subs[channel][id] = ch
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop, nil
}

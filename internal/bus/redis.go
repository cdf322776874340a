package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis implements Bus on Redis pub/sub. Redis delivery semantics
// match the contract exactly: no replay, every subscriber connected at
// publish time gets the message.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed bus.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Compile-time interface check.
var _ Bus = (*Redis)(nil)

// Publish sends one payload on the channel.
func (b *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for the channel.
func (b *Redis) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(ctx, channel)

	// Block until the subscription is confirmed so callers never miss
	// messages published right after Subscribe returns.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 256)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = sub.Unsubscribe(context.Background(), channel)
			_ = sub.Close()
			close(done)
		})
	}

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					stop()
					return
				case <-done:
					return
				}
			}
		}
	}()

	return out, stop, nil
}

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis implements Queue on a Redis list under one well-known key.
// LPUSH/RPOP gives oldest-first consumption across any number of feed
// and persister instances.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a Redis-backed queue on the given list key.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

// Compile-time interface check.
var _ Queue = (*Redis)(nil)

// Push appends one item.
func (q *Redis) Push(ctx context.Context, item []byte) error {
	if err := q.client.LPush(ctx, q.key, item).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

// Pop removes the oldest item. Non-blocking: an empty queue returns
// ok=false, never an error.
func (q *Redis) Pop(ctx context.Context) ([]byte, bool, error) {
	item, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rpop %s: %w", q.key, err)
	}
	return item, true, nil
}

// Len returns the pending item count.
func (q *Redis) Len(ctx context.Context) (int64, error) {
	size, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return size, nil
}

// Drain atomically reads and deletes the whole list.
func (q *Redis) Drain(ctx context.Context) ([][]byte, error) {
	pipe := q.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, q.key, 0, -1)
	pipe.Del(ctx, q.key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("drain %s: %w", q.key, err)
	}

	values := rangeCmd.Val()
	items := make([][]byte, 0, len(values))
	// LRANGE returns newest-first for an LPUSH list; reverse so the
	// caller sees oldest-first like repeated Pops would.
	for i := len(values) - 1; i >= 0; i-- {
		items = append(items, []byte(values[i]))
	}
	return items, nil
}

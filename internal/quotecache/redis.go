package quotecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"market-pipeline/internal/domain"
)

// Key returns the cache key for a symbol: last:price:<SYMBOL-UPPER>.
func Key(symbol string) string {
	return "last:price:" + strings.ToUpper(symbol)
}

// Redis implements Cache on plain Redis keys holding {bid, ask, ts}.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed quote cache.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Compile-time interface check.
var _ Cache = (*Redis)(nil)

type entry struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
	TS  int64   `json:"ts"`
}

// Set overwrites the symbol's quote entry.
func (c *Redis) Set(ctx context.Context, q domain.QuoteSnapshot) error {
	raw, err := json.Marshal(entry{Bid: q.Bid, Ask: q.Ask, TS: q.ObservedAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	if err := c.client.Set(ctx, Key(q.Symbol), raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", Key(q.Symbol), err)
	}
	return nil
}

// Get reads the latest quote for symbol.
func (c *Redis) Get(ctx context.Context, symbol string) (domain.QuoteSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, Key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.QuoteSnapshot{}, false, nil
	}
	if err != nil {
		return domain.QuoteSnapshot{}, false, fmt.Errorf("get %s: %w", Key(symbol), err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.QuoteSnapshot{}, false, fmt.Errorf("unmarshal quote %s: %w", symbol, err)
	}
	return domain.QuoteSnapshot{
		Symbol:     symbol,
		Bid:        e.Bid,
		Ask:        e.Ask,
		ObservedAt: millisToTime(e.TS),
	}, true, nil
}

package quotecache

import (
	"context"
	"strings"
	"sync"
	"time"

	"market-pipeline/internal/domain"
)

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Memory implements Cache with a mutex-guarded map for tests and the
// all-in-one development pipeline.
type Memory struct {
	mu     sync.RWMutex
	quotes map[string]domain.QuoteSnapshot
}

// NewMemory creates an empty in-memory quote cache.
func NewMemory() *Memory {
	return &Memory{quotes: make(map[string]domain.QuoteSnapshot)}
}

// Compile-time interface check.
var _ Cache = (*Memory)(nil)

// Set overwrites the symbol's snapshot.
func (c *Memory) Set(_ context.Context, q domain.QuoteSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[strings.ToUpper(q.Symbol)] = q
	return nil
}

// Get returns the latest snapshot for symbol.
func (c *Memory) Get(_ context.Context, symbol string) (domain.QuoteSnapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[strings.ToUpper(symbol)]
	return q, ok, nil
}

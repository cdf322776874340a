// Package quotecache stores the most recent top-of-book quote per
// symbol, overwritten on every quote tick.
package quotecache

import (
	"context"

	"market-pipeline/internal/domain"
)

// Cache holds one QuoteSnapshot per symbol, last-writer-wins.
// Written by the feed connector; read by the manual-close path of the
// external order layer.
type Cache interface {
	// Set overwrites the snapshot for its symbol.
	Set(ctx context.Context, q domain.QuoteSnapshot) error

	// Get returns the latest snapshot for symbol. ok is false when no
	// quote has been observed yet.
	Get(ctx context.Context, symbol string) (q domain.QuoteSnapshot, ok bool, err error)
}

// Package storage defines the persistence contracts for the
// time-series trade store and the ledger's position table.
package storage

import (
	"context"
	"time"

	"market-pipeline/internal/domain"
)

// TradeStore persists normalized trades into the time-series store and
// reads the derived candle rollups.
type TradeStore interface {
	// UpsertBatch writes all trades in one transaction, keyed by
	// (symbol, aggregate id, trade time). On conflict price, qty and
	// trade time take the incoming values while first/last trade id,
	// maker flag and event time keep the first non-null write.
	UpsertBatch(ctx context.Context, trades []*domain.Trade) error

	// Candles reads one rollup resolution for a symbol within
	// [from, to). Interval is one of domain.Intervals.
	Candles(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error)
}

// PositionStore is the pipeline's view of the ledger's positions. The
// pipeline never creates or deletes positions; Create exists for the
// external order layer's contract and for tests.
type PositionStore interface {
	// Create inserts a new open position.
	Create(ctx context.Context, p *domain.Position) error

	// GetByID returns one position. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id string) (*domain.Position, error)

	// OpenBySymbol returns every open position for a symbol.
	OpenBySymbol(ctx context.Context, symbol string) ([]*domain.Position, error)

	// Close atomically transitions a position open -> closed, setting
	// exit price, pnl, reason and close time. If the position is no
	// longer open the update affects zero rows and ErrAlreadyClosed is
	// returned; the position is left untouched.
	Close(ctx context.Context, id string, exitPrice, pnl float64, reason domain.CloseReason, closedAt time.Time) error
}

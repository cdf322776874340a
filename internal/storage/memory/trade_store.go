// Package memory provides in-memory storage backends mirroring the
// postgres semantics, for tests and the all-in-one development
// pipeline.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"market-pipeline/internal/domain"
	"market-pipeline/internal/storage"
)

// tradeKey is the trade identity key.
type tradeKey struct {
	symbol    string
	aggID     int64
	tradeTime time.Time
}

// TradeStore implements storage.TradeStore with a mutex-guarded map.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[tradeKey]*domain.Trade
}

// NewTradeStore creates an empty in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{trades: make(map[tradeKey]*domain.Trade)}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// UpsertBatch applies the same conflict semantics as the SQL upsert:
// price and qty take the incoming values, while first/last id, maker
// and event time keep the first non-null write.
func (s *TradeStore) UpsertBatch(_ context.Context, trades []*domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		cp := *t
		cp.Symbol = strings.ToLower(cp.Symbol)
		key := tradeKey{cp.Symbol, cp.AggregateID, cp.TradeTime}

		existing, ok := s.trades[key]
		if !ok {
			s.trades[key] = &cp
			continue
		}

		existing.Price = cp.Price
		existing.Qty = cp.Qty
		if existing.FirstID == nil {
			existing.FirstID = cp.FirstID
		}
		if existing.LastID == nil {
			existing.LastID = cp.LastID
		}
		if existing.Maker == nil {
			existing.Maker = cp.Maker
		}
		if existing.EventTime == nil {
			existing.EventTime = cp.EventTime
		}
	}
	return nil
}

// Get returns the stored trade for an identity key, for tests.
func (s *TradeStore) Get(symbol string, aggID int64, tradeTime time.Time) (*domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[tradeKey{strings.ToLower(symbol), aggID, tradeTime}]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Len returns the stored trade count.
func (s *TradeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

// Candles computes OHLCV buckets directly from stored trades. The
// bucket math mirrors time_bucket over the requested interval.
func (s *TradeStore) Candles(_ context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error) {
	width, ok := intervalWidths[interval]
	if !ok {
		return nil, storage.ErrInvalidInput
	}
	symbol = strings.ToLower(symbol)

	s.mu.RLock()
	var trades []*domain.Trade
	for _, t := range s.trades {
		if t.Symbol == symbol && !t.TradeTime.Before(from) && t.TradeTime.Before(to) {
			trades = append(trades, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(trades, func(i, j int) bool { return trades[i].TradeTime.Before(trades[j].TradeTime) })

	buckets := make(map[time.Time]*domain.Candle)
	var order []time.Time
	for _, t := range trades {
		bucket := t.TradeTime.Truncate(width)
		c, ok := buckets[bucket]
		if !ok {
			c = &domain.Candle{Bucket: bucket, Symbol: symbol, Open: t.Price, High: t.Price, Low: t.Price}
			buckets[bucket] = c
			order = append(order, bucket)
		}
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += t.Qty
	}

	candles := make([]*domain.Candle, 0, len(order))
	for _, b := range order {
		candles = append(candles, buckets[b])
	}
	return candles, nil
}

var intervalWidths = map[string]time.Duration{
	domain.Interval5m:  5 * time.Minute,
	domain.Interval30m: 30 * time.Minute,
	domain.Interval1h:  time.Hour,
	domain.Interval1d:  24 * time.Hour,
}

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market-pipeline/internal/domain"
	"market-pipeline/internal/storage"
)

// TradeStore implements storage.TradeStore on the md_trades hypertable.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// tradeColumns is the insert column count for one row.
const tradeColumns = 10

// UpsertBatch writes all trades in one transaction as a single
// multi-row upsert. Price, qty and trade time are last-write-wins;
// first_id, last_id, maker and event_ts keep the first non-null value.
func (s *TradeStore) UpsertBatch(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(trades))
	values := make([]any, 0, len(trades)*tradeColumns)
	for i, t := range trades {
		base := i * tradeColumns
		marks := make([]string, tradeColumns)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ",")+")")

		source := t.Source
		if source == "" {
			source = "binance"
		}
		values = append(values,
			t.TradeTime, strings.ToLower(t.Symbol), t.Price, t.Qty, t.AggregateID,
			t.FirstID, t.LastID, t.Maker, t.EventTime, source,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO md_trades (ts, symbol, price, qty, agg_id, first_id, last_id, maker, event_ts, source)
		VALUES %s
		ON CONFLICT (symbol, agg_id, ts) DO UPDATE SET
		  price = EXCLUDED.price,
		  qty   = EXCLUDED.qty,
		  first_id = COALESCE(md_trades.first_id, EXCLUDED.first_id),
		  last_id  = COALESCE(md_trades.last_id,  EXCLUDED.last_id),
		  maker    = COALESCE(md_trades.maker,    EXCLUDED.maker),
		  event_ts = COALESCE(md_trades.event_ts, EXCLUDED.event_ts)
	`, strings.Join(placeholders, ","))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, query, values...); err != nil {
		return fmt.Errorf("upsert trades: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Candles reads one rollup resolution for a symbol within [from, to).
func (s *TradeStore) Candles(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error) {
	view, ok := rollupViews[interval]
	if !ok {
		return nil, fmt.Errorf("%w: unknown interval %q", storage.ErrInvalidInput, interval)
	}

	query := fmt.Sprintf(`
		SELECT bucket, symbol, open, high, low, close, volume
		FROM %s
		WHERE symbol = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket ASC
	`, view)

	rows, err := s.pool.Query(ctx, query, strings.ToLower(symbol), from, to)
	if err != nil {
		return nil, fmt.Errorf("query candles %s: %w", interval, err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

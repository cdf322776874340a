package postgres

import (
	"context"
	"fmt"

	"market-pipeline/internal/domain"
)

// The persister owns the time-series schema: the base hypertable and
// one continuous-aggregate rollup per resolution, each with its own
// refresh policy. Everything here is idempotent so repeated startups
// never duplicate objects or scheduled jobs.

// rollup describes one continuous-aggregate resolution.
type rollup struct {
	interval    string
	view        string
	bucketWidth string
	startOffset string
	endOffset   string
	schedule    string
}

// Refresh policies recompute startOffset back from now and stop
// endOffset short of it, so an incomplete bucket is never materialized.
var rollups = []rollup{
	{domain.Interval5m, "md_candles_5m", "5 minutes", "1 hour", "5 minutes", "5 minutes"},
	{domain.Interval30m, "md_candles_30m", "30 minutes", "6 hours", "30 minutes", "30 minutes"},
	{domain.Interval1h, "md_candles_1h", "1 hour", "12 hours", "1 hour", "1 hour"},
	{domain.Interval1d, "md_candles_1d", "1 day", "7 days", "1 day", "1 day"},
}

// rollupViews maps interval name to its view for candle reads.
var rollupViews = func() map[string]string {
	m := make(map[string]string, len(rollups))
	for _, r := range rollups {
		m[r.interval] = r.view
	}
	return m
}()

// EnsureSchema creates the base trade table and hypertable.
func (s *TradeStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS timescaledb`,
		`CREATE TABLE IF NOT EXISTS md_trades (
			ts timestamptz NOT NULL,
			symbol text NOT NULL,
			price double precision NOT NULL,
			qty double precision NOT NULL,
			agg_id bigint NOT NULL,
			first_id bigint,
			last_id bigint,
			maker boolean,
			event_ts timestamptz,
			source text NOT NULL DEFAULT 'binance',
			PRIMARY KEY (symbol, agg_id, ts)
		)`,
		`SELECT create_hypertable('md_trades', 'ts', if_not_exists => TRUE)`,
		`CREATE INDEX IF NOT EXISTS idx_md_trades_symbol_ts ON md_trades (symbol, ts DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// EnsureRollups creates the continuous aggregates and registers their
// refresh policies. Continuous-aggregate creation must run outside an
// explicit transaction, so each statement executes on its own.
func (s *TradeStore) EnsureRollups(ctx context.Context) error {
	for _, r := range rollups {
		create := fmt.Sprintf(`
			CREATE MATERIALIZED VIEW IF NOT EXISTS %s
			WITH (timescaledb.continuous) AS
			SELECT time_bucket(INTERVAL '%s', ts) AS bucket,
			       symbol,
			       first(price, ts) AS open,
			       max(price)       AS high,
			       min(price)       AS low,
			       last(price, ts)  AS close,
			       sum(qty)         AS volume
			FROM md_trades
			GROUP BY bucket, symbol
			WITH NO DATA
		`, r.view, r.bucketWidth)
		if _, err := s.pool.Exec(ctx, create); err != nil {
			return fmt.Errorf("create rollup %s: %w", r.view, err)
		}

		if err := s.ensureRefreshPolicy(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// ensureRefreshPolicy registers the rollup's refresh job if it is not
// registered yet (check-before-create, via if_not_exists).
func (s *TradeStore) ensureRefreshPolicy(ctx context.Context, r rollup) error {
	var registered bool
	check := `
		SELECT EXISTS (
			SELECT 1 FROM timescaledb_information.jobs
			WHERE proc_name = 'policy_refresh_continuous_aggregate'
			  AND hypertable_name = (
				SELECT materialization_hypertable_name
				FROM timescaledb_information.continuous_aggregates
				WHERE view_name = $1
			  )
		)
	`
	if err := s.pool.QueryRow(ctx, check, r.view).Scan(&registered); err != nil {
		return fmt.Errorf("check refresh policy %s: %w", r.view, err)
	}
	if registered {
		return nil
	}

	policy := fmt.Sprintf(`
		SELECT add_continuous_aggregate_policy('%s',
			start_offset      => INTERVAL '%s',
			end_offset        => INTERVAL '%s',
			schedule_interval => INTERVAL '%s',
			if_not_exists     => TRUE)
	`, r.view, r.startOffset, r.endOffset, r.schedule)
	if _, err := s.pool.Exec(ctx, policy); err != nil {
		return fmt.Errorf("register refresh policy %s: %w", r.view, err)
	}
	return nil
}

// EnsureLedgerSchema creates the positions table consumed by the
// liquidation engine. The CRUD layer owns the rest of the ledger.
func (s *PositionStore) EnsureLedgerSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id text PRIMARY KEY,
			user_id text NOT NULL,
			symbol text NOT NULL,
			side text NOT NULL CHECK (side IN ('long', 'short')),
			quantity double precision NOT NULL CHECK (quantity > 0),
			entry_price double precision NOT NULL,
			leverage double precision NOT NULL DEFAULT 1 CHECK (leverage >= 1),
			margin double precision,
			take_profit double precision,
			stop_loss double precision,
			status text NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
			exit_price double precision,
			pnl double precision,
			close_reason text,
			closed_at timestamptz
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

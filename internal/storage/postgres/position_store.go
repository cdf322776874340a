package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"market-pipeline/internal/domain"
	"market-pipeline/internal/storage"
)

// PositionStore implements storage.PositionStore on the ledger's
// positions table.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, user_id, symbol, side, quantity, entry_price, leverage,
	margin, take_profit, stop_loss, status, exit_price, pnl, close_reason, closed_at
`

// Create inserts a new open position.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	if !p.Validate() {
		return fmt.Errorf("%w: position fails row invariants", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO positions (
			id, user_id, symbol, side, quantity, entry_price, leverage,
			margin, take_profit, stop_loss, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, strings.ToLower(p.Symbol), p.Side, p.Quantity, p.EntryPrice, p.Leverage,
		p.Margin, p.TakeProfit, p.StopLoss, domain.StatusOpen,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: position %s exists", storage.ErrInvalidInput, p.ID)
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetByID returns one position. Returns ErrNotFound if missing.
func (s *PositionStore) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// OpenBySymbol returns every open position for a symbol.
func (s *PositionStore) OpenBySymbol(ctx context.Context, symbol string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE symbol = $1 AND status = $2
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, strings.ToLower(symbol), domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

// Close transitions a position open -> closed. The status guard makes
// the update a no-op when another writer closed the position first;
// zero affected rows surfaces as ErrAlreadyClosed.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice, pnl float64, reason domain.CloseReason, closedAt time.Time) error {
	query := `
		UPDATE positions
		SET status = $2, exit_price = $3, pnl = $4, close_reason = $5, closed_at = $6
		WHERE id = $1 AND status = $7
	`

	tag, err := s.pool.Exec(ctx, query,
		id, domain.StatusClosed, exitPrice, pnl, reason, closedAt, domain.StatusOpen,
	)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAlreadyClosed
	}
	return nil
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &p.Side, &p.Quantity, &p.EntryPrice, &p.Leverage,
		&p.Margin, &p.TakeProfit, &p.StopLoss, &p.Status, &p.ExitPrice, &p.PNL, &p.CloseReason, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"market-pipeline/internal/domain"
	"market-pipeline/internal/storage"
)

// PositionStore implements storage.PositionStore with a mutex-guarded
// map. The open -> closed transition is checked under the lock, so a
// second close observes ErrAlreadyClosed exactly like the SQL guard.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]*domain.Position)}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Create inserts a new open position.
func (s *PositionStore) Create(_ context.Context, p *domain.Position) error {
	if !p.Validate() {
		return fmt.Errorf("%w: position fails row invariants", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("%w: position %s exists", storage.ErrInvalidInput, p.ID)
	}

	cp := *p
	cp.Symbol = strings.ToLower(cp.Symbol)
	cp.Status = domain.StatusOpen
	s.positions[cp.ID] = &cp
	return nil
}

// GetByID returns one position. Returns ErrNotFound if missing.
func (s *PositionStore) GetByID(_ context.Context, id string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// OpenBySymbol returns every open position for a symbol, ordered by id.
func (s *PositionStore) OpenBySymbol(_ context.Context, symbol string) ([]*domain.Position, error) {
	symbol = strings.ToLower(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []*domain.Position
	for _, p := range s.positions {
		if p.Symbol == symbol && p.Status == domain.StatusOpen {
			cp := *p
			positions = append(positions, &cp)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	return positions, nil
}

// Close transitions a position open -> closed. Returns ErrAlreadyClosed
// when the position is no longer open, ErrNotFound when it is missing.
func (s *PositionStore) Close(_ context.Context, id string, exitPrice, pnl float64, reason domain.CloseReason, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if p.Status != domain.StatusOpen {
		return storage.ErrAlreadyClosed
	}

	p.Status = domain.StatusClosed
	p.ExitPrice = &exitPrice
	p.PNL = &pnl
	p.CloseReason = &reason
	p.ClosedAt = &closedAt
	return nil
}

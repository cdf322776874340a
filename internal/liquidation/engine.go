package liquidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/domain"
	"market-pipeline/internal/observability"
	"market-pipeline/internal/storage"
)

// Engine subscribes to the broadcast channel and evaluates every open
// position on the traded symbol against each price tick. A position
// closes at most once; the store's conditional update arbitrates races
// with other closers.
type Engine struct {
	bus       bus.Bus
	channel   string
	positions storage.PositionStore
	metrics   *observability.Metrics
	logger    *logrus.Entry
}

// Options configures an Engine.
type Options struct {
	// Bus is the trade tick source.
	Bus bus.Bus

	// Channel is the broadcast channel to subscribe.
	Channel string

	// Positions is the ledger to evaluate and close against.
	Positions storage.PositionStore

	Metrics *observability.Metrics
	Logger  *logrus.Entry
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Engine{
		bus:       opts.Bus,
		channel:   opts.Channel,
		positions: opts.Positions,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Run consumes ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	msgs, stop, err := e.bus.Subscribe(ctx, e.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", e.channel, err)
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			e.handlePayload(ctx, payload)
		}
	}
}

// handlePayload filters for trade messages and evaluates the tick.
// Non-trade and malformed payloads are skipped silently; the bus
// carries other message types by design.
func (e *Engine) handlePayload(ctx context.Context, payload []byte) {
	var msg domain.BroadcastMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != domain.MessageTypeTrade {
		return
	}
	if msg.Data.Symbol == "" {
		return
	}
	e.EvaluateTick(ctx, msg.Data.Symbol, msg.Data.Price)
}

// EvaluateTick checks every open position on the symbol against the
// price. Failures on one position never stop evaluation of the rest.
func (e *Engine) EvaluateTick(ctx context.Context, symbol string, price float64) {
	if e.metrics != nil {
		e.metrics.TicksEvaluated.Inc()
	}

	open, err := e.positions.OpenBySymbol(ctx, symbol)
	if err != nil {
		if e.metrics != nil {
			e.metrics.EvaluationErrors.Inc()
		}
		e.logger.WithError(err).WithField("symbol", symbol).Warn("fetch open positions failed")
		return
	}

	for _, p := range open {
		reason, ok := Evaluate(p, price)
		if !ok {
			continue
		}
		e.close(ctx, p, price, reason)
	}
}

// close finalizes one position. Losing a close race is a silent no-op:
// the position reached a terminal state either way.
func (e *Engine) close(ctx context.Context, p *domain.Position, price float64, reason domain.CloseReason) {
	pnl := PNL(p, price)
	err := e.positions.Close(ctx, p.ID, price, pnl, reason, time.Now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyClosed) {
			if e.metrics != nil {
				e.metrics.CloseRacesDetected.Inc()
			}
			return
		}
		if e.metrics != nil {
			e.metrics.EvaluationErrors.Inc()
		}
		e.logger.WithError(err).WithField("position", p.ID).Warn("close position failed")
		return
	}

	if e.metrics != nil {
		e.metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	}
	e.logger.WithFields(logrus.Fields{
		"position": p.ID,
		"symbol":   p.Symbol,
		"reason":   reason,
		"price":    price,
		"pnl":      pnl,
	}).Info("position closed")
}

// Package persister drains the durable queue and writes trades to the
// time-series store in idempotent batches.
package persister

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"market-pipeline/internal/domain"
	"market-pipeline/internal/observability"
	"market-pipeline/internal/queue"
	"market-pipeline/internal/storage"
)

// Failure policy: exponential backoff per failed cycle capped at
// maxBackoff; cooldownThreshold consecutive failures trigger a long
// cooldown and reset the counter.
const (
	defaultBatchSize  = 5000
	idleSleep         = 1 * time.Second
	baseBackoff       = 1 * time.Second
	maxBackoff        = 10 * time.Second
	cooldownThreshold = 3
	cooldownSleep     = 30 * time.Second
)

// Persister pops serialized trades from the queue, validates them and
// upserts them in bounded batches. Items that fail validation are
// dropped; the queue never sees them again. Items lost between a pop
// and a failed upsert are gone, which the idempotent upsert makes an
// acceptable trade for the simple no-ack queue.
type Persister struct {
	queue     queue.Queue
	store     storage.TradeStore
	batchSize int
	metrics   *observability.Metrics
	logger    *logrus.Entry
}

// Options configures a Persister.
type Options struct {
	// Queue is the durable buffer to drain.
	Queue queue.Queue

	// Store receives validated trade batches.
	Store storage.TradeStore

	// BatchSize bounds one upsert. Defaults to 5000.
	BatchSize int

	Metrics *observability.Metrics
	Logger  *logrus.Entry
}

// New creates a Persister.
func New(opts Options) *Persister {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Persister{
		queue:     opts.Queue,
		store:     opts.Store,
		batchSize: batchSize,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Run drains the queue until ctx is cancelled. Each cycle pops up to
// BatchSize items without blocking, persists them and sleeps when the
// queue is empty.
func (p *Persister) Run(ctx context.Context) error {
	consecutiveErrors := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := p.RunOnce(ctx)
		if err != nil {
			consecutiveErrors++
			if p.metrics != nil {
				p.metrics.PersistErrors.Inc()
			}

			if consecutiveErrors >= cooldownThreshold {
				p.logger.WithError(err).Errorf("persist failed %d times in a row, cooling down %v", consecutiveErrors, cooldownSleep)
				consecutiveErrors = 0
				if !sleepCtx(ctx, cooldownSleep) {
					return ctx.Err()
				}
				continue
			}

			delay := backoff(consecutiveErrors)
			p.logger.WithError(err).Warnf("persist cycle failed, retrying in %v", delay)
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		consecutiveErrors = 0
		if n == 0 {
			if !sleepCtx(ctx, idleSleep) {
				return ctx.Err()
			}
		}
	}
}

// RunOnce performs a single drain cycle and returns the number of rows
// written. Pop errors and upsert errors abort the cycle; items already
// popped in an aborted cycle are lost by design of the no-ack queue.
func (p *Persister) RunOnce(ctx context.Context) (int, error) {
	trades := make([]*domain.Trade, 0, p.batchSize)
	for len(trades) < p.batchSize {
		item, ok, err := p.queue.Pop(ctx)
		if err != nil {
			return 0, fmt.Errorf("pop queue: %w", err)
		}
		if !ok {
			break
		}

		trade, err := decodeTrade(item)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RowsRejected.Inc()
			}
			p.logger.WithError(err).Warn("dropping invalid queue item")
			continue
		}
		trades = append(trades, trade)
	}

	p.observeQueueDepth(ctx)

	if len(trades) == 0 {
		return 0, nil
	}

	if err := p.store.UpsertBatch(ctx, trades); err != nil {
		return 0, fmt.Errorf("upsert batch of %d: %w", len(trades), err)
	}

	if p.metrics != nil {
		p.metrics.RowsUpserted.Add(float64(len(trades)))
		p.metrics.BatchesPersisted.Inc()
	}
	p.logger.WithField("rows", len(trades)).Debug("batch persisted")
	return len(trades), nil
}

// decodeTrade parses and validates one queue item.
func decodeTrade(item []byte) (*domain.Trade, error) {
	var trade domain.Trade
	if err := json.Unmarshal(item, &trade); err != nil {
		return nil, fmt.Errorf("decode trade: %w", err)
	}
	if !trade.Validate() {
		return nil, fmt.Errorf("trade fails row invariants: symbol=%q", trade.Symbol)
	}
	return &trade, nil
}

func (p *Persister) observeQueueDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	depth, err := p.queue.Len(ctx)
	if err != nil {
		return
	}
	p.metrics.QueueDepth.Set(float64(depth))
}

// backoff returns the retry delay after n consecutive failures.
func backoff(n int) time.Duration {
	d := baseBackoff << (n - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

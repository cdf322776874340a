// Package feed maintains the upstream market data connection and fans
// normalized events into the queue, broadcast bus and quote cache.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/domain"
	"market-pipeline/internal/observability"
	"market-pipeline/internal/queue"
	"market-pipeline/internal/quotecache"
)

// Reconnect policy: 1s, 2s, 4s, 8s, 16s, capped at 30s; exhausting
// maxReconnectAttempts is fatal and the supervisor must restart us.
const (
	baseReconnectDelay   = 1 * time.Second
	maxReconnectDelay    = 30 * time.Second
	maxReconnectAttempts = 5

	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
)

// ErrReconnectExhausted is returned by Run after the maximum number of
// consecutive reconnect attempts fail. The owning process decides the
// lifecycle (exit non-zero for external restart).
var ErrReconnectExhausted = errors.New("feed: reconnect attempts exhausted")

// State of the upstream connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Connector owns one upstream combined-stream connection covering
// trade and top-of-book quote events for a symbol set.
type Connector struct {
	url     string
	symbols []string
	queue   queue.Queue
	bus     bus.Bus
	channel string
	cache   quotecache.Cache
	metrics *observability.Metrics
	logger  *logrus.Entry

	mu         sync.Mutex
	state      State
	lastQuotes map[string]domain.QuoteSnapshot
}

// Options configures a Connector.
type Options struct {
	// URL is the combined-stream base endpoint.
	URL string

	// Symbols to subscribe (lowercase).
	Symbols []string

	// Queue receives every normalized trade.
	Queue queue.Queue

	// Bus carries the broadcast copy of every trade.
	Bus bus.Bus

	// Channel is the broadcast channel name.
	Channel string

	// Cache receives last-quote updates.
	Cache quotecache.Cache

	Metrics *observability.Metrics
	Logger  *logrus.Entry
}

// New creates a Connector.
func New(opts Options) *Connector {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Connector{
		url:        opts.URL,
		symbols:    opts.Symbols,
		queue:      opts.Queue,
		bus:        opts.Bus,
		channel:    opts.Channel,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		logger:     logger,
		state:      StateDisconnected,
		lastQuotes: make(map[string]domain.QuoteSnapshot),
	}
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// streamURL builds the combined-stream URL: one aggTrade and one
// bookTicker stream per symbol.
func (c *Connector) streamURL() string {
	streams := make([]string, 0, len(c.symbols)*2)
	for _, s := range c.symbols {
		streams = append(streams, s+"@aggTrade", s+"@bookTicker")
	}
	return c.url + "?streams=" + strings.Join(streams, "/")
}

// ReconnectDelay returns the wait before reconnect attempt n (1-based):
// exponential from 1s, capped at 30s.
func ReconnectDelay(attempt int) time.Duration {
	d := baseReconnectDelay << (attempt - 1)
	if d > maxReconnectDelay || d <= 0 {
		return maxReconnectDelay
	}
	return d
}

// Run connects and processes messages until ctx is cancelled or
// reconnects are exhausted. Cancellation closes the upstream socket
// but never discards pending queue contents.
func (c *Connector) Run(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		c.setState(StateConnecting)
		opened, err := c.runConnection(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if opened {
			// A successful open resets the consecutive-failure count.
			attempts = 0
		}

		attempts++
		if attempts > maxReconnectAttempts {
			c.logger.WithError(err).Errorf("upstream closed, %d reconnect attempts exhausted", maxReconnectAttempts)
			c.setState(StateDisconnected)
			return ErrReconnectExhausted
		}

		delay := ReconnectDelay(attempts)
		c.logger.WithError(err).Warnf("upstream closed, reconnecting in %v (%d/%d)", delay, attempts, maxReconnectAttempts)
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runConnection dials once and reads until error or cancellation.
// A clean shutdown returns nil; any transport failure returns the
// error so Run can apply the reconnect policy. opened reports whether
// the connection reached the Open state before failing.
func (c *Connector) runConnection(ctx context.Context) (opened bool, _ error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		return false, fmt.Errorf("dial upstream: %w", err)
	}
	defer conn.Close()

	c.setState(StateOpen)
	c.logger.WithField("symbols", c.symbols).Info("upstream open")

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.setState(StateClosing)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	// Message handling is single-threaded per connection: events for a
	// symbol are processed in arrival order.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read upstream: %w", err)
		}
		c.handleMessage(ctx, raw)
	}
}

// handleMessage dispatches one inbound payload. Malformed messages are
// dropped with a log line; queue/bus failures are logged and never
// raised to the socket layer.
func (c *Connector) handleMessage(ctx context.Context, raw []byte) {
	event := ParseEnvelope(raw)
	switch event.Kind {
	case KindQuote:
		c.handleQuote(ctx, event.Quote)
	case KindTrade:
		c.handleTrade(ctx, event.Trade)
	default:
		if c.metrics != nil {
			c.metrics.MalformedMessages.Inc()
		}
		c.logger.WithField("payload_bytes", len(raw)).Warn("dropping unrecognized message")
	}
}

func (c *Connector) handleQuote(ctx context.Context, q domain.QuoteSnapshot) {
	c.mu.Lock()
	c.lastQuotes[q.Symbol] = q
	c.mu.Unlock()

	if err := c.cache.Set(ctx, q); err != nil {
		c.logger.WithError(err).WithField("symbol", q.Symbol).Warn("quote cache update failed")
	}
	if c.metrics != nil {
		c.metrics.QuotesObserved.Inc()
	}
}

func (c *Connector) handleTrade(ctx context.Context, trade domain.Trade) {
	c.mu.Lock()
	if q, ok := c.lastQuotes[trade.Symbol]; ok {
		bid, ask := q.Bid, q.Ask
		trade.Bid = &bid
		trade.Ask = &ask
	}
	c.mu.Unlock()

	item, err := json.Marshal(&trade)
	if err != nil {
		c.logger.WithError(err).Warn("marshal trade failed")
		return
	}

	if err := c.queue.Push(ctx, item); err != nil {
		c.logger.WithError(err).WithField("symbol", trade.Symbol).Warn("queue push failed")
	} else if c.metrics != nil {
		c.metrics.TradesEnqueued.Inc()
	}

	msg, err := json.Marshal(domain.BroadcastMessage{
		Type:      domain.MessageTypeTrade,
		Data:      trade,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.WithError(err).Warn("marshal broadcast message failed")
		return
	}
	if err := c.bus.Publish(ctx, c.channel, msg); err != nil {
		c.logger.WithError(err).WithField("symbol", trade.Symbol).Warn("broadcast publish failed")
	} else if c.metrics != nil {
		c.metrics.TradesPublished.Inc()
	}
}

// Package gateway bridges the broadcast bus to external WebSocket
// clients.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/domain"
	"market-pipeline/internal/observability"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second

	// Per-client outbound buffer; a client this far behind starts
	// losing messages rather than stalling the fan-out.
	clientBuffer = 256
)

// client is one connected WebSocket peer.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	alive bool
}

func (c *client) markAlive(v bool) {
	c.mu.Lock()
	c.alive = v
	c.mu.Unlock()
}

func (c *client) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Hub owns the client registry and fans bus payloads out to every
// connected client. Per-client write failures disconnect that client
// only; the rest of the fan-out is unaffected.
type Hub struct {
	bus          bus.Bus
	channel      string
	pingInterval time.Duration
	metrics      *observability.Metrics
	logger       *logrus.Entry
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// Options configures a Hub.
type Options struct {
	// Bus is the broadcast source.
	Bus bus.Bus

	// Channel is the bus channel to forward.
	Channel string

	// PingInterval overrides the liveness ping period. Defaults to 30s.
	PingInterval time.Duration

	Metrics *observability.Metrics
	Logger  *logrus.Entry
}

// NewHub creates a Hub.
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	interval := opts.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	return &Hub{
		bus:          opts.Bus,
		channel:      opts.Channel,
		pingInterval: interval,
		metrics:      opts.Metrics,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and runs the client until it
// disconnects. New clients receive a hello message before any trades.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer), alive: true}
	conn.SetPongHandler(func(string) error {
		c.markAlive(true)
		return nil
	})

	if !h.register(c) {
		conn.Close()
		return
	}

	hello, _ := json.Marshal(map[string]any{
		"type": domain.MessageTypeHello,
		"ts":   time.Now().UTC().UnixMilli(),
	})
	select {
	case c.send <- hello:
	default:
	}

	go h.writePump(c)
	h.readPump(c)
}

// register adds a client unless the hub is already shut down.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.ConnectedClients.Set(float64(len(h.clients)))
	}
	return true
}

// unregister removes a client and closes its socket. Idempotent.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.ConnectedClients.Set(float64(len(h.clients)))
	}
	h.mu.Unlock()

	close(c.send)
	c.conn.Close()
}

// readPump consumes inbound frames until the peer goes away. The
// gateway accepts no client commands; reading only services control
// frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes all writes for one client. Closing c.send ends
// the pump.
func (h *Hub) writePump(c *client) {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.WithError(err).Debug("client write failed")
			h.unregister(c)
			return
		}
	}
}

// Run forwards bus payloads and pings clients until ctx is cancelled,
// then shuts down in order: stop forwarding, close every client,
// release the subscription.
func (h *Hub) Run(ctx context.Context) error {
	msgs, stop, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		return err
	}
	defer stop()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				h.shutdown()
				return nil
			}
			h.broadcast(payload)
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// broadcast queues the payload on every client. Slow clients lose the
// message instead of blocking the hub.
func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
			if h.metrics != nil {
				h.metrics.MessagesFannedOut.Inc()
			}
		default:
		}
	}
}

// pingClients reaps clients that never ponged the previous ping, then
// pings the survivors.
func (h *Hub) pingClients() {
	h.mu.Lock()
	snapshot := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	for _, c := range snapshot {
		if !c.isAlive() {
			h.logger.Info("terminating unresponsive client")
			if h.metrics != nil {
				h.metrics.ClientsReaped.Inc()
			}
			h.unregister(c)
			continue
		}
		c.markAlive(false)
		_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
	}
}

// shutdown closes every client and refuses new registrations.
func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	if h.metrics != nil {
		h.metrics.ConnectedClients.Set(0)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		close(c.send)
		c.conn.Close()
	}
}

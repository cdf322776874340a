package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/domain"
	"market-pipeline/internal/queue"
	"market-pipeline/internal/quotecache"
)

func newTestConnector(q queue.Queue, b bus.Bus, c quotecache.Cache) *Connector {
	return New(Options{
		URL:     "wss://fstream.example.com/stream",
		Symbols: []string{"btcusdt", "ethusdt"},
		Queue:   q,
		Bus:     b,
		Channel: "market:trades",
		Cache:   c,
	})
}

func TestReconnectDelay(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, w := range want {
		if got := ReconnectDelay(i + 1); got != w {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", i+1, got, w)
		}
	}

	// Past the schedule the delay stays capped.
	if got := ReconnectDelay(6); got != 30*time.Second {
		t.Errorf("ReconnectDelay(6) = %v, want capped 30s", got)
	}
	if got := ReconnectDelay(40); got != 30*time.Second {
		t.Errorf("ReconnectDelay(40) = %v, want capped 30s", got)
	}
}

func TestStreamURL(t *testing.T) {
	c := newTestConnector(queue.NewMemory(), bus.NewMemory(), quotecache.NewMemory())

	want := "wss://fstream.example.com/stream?streams=btcusdt@aggTrade/btcusdt@bookTicker/ethusdt@aggTrade/ethusdt@bookTicker"
	if got := c.streamURL(); got != want {
		t.Errorf("streamURL() = %q, want %q", got, want)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestHandleMessage_TradeEnqueuedAndPublished(t *testing.T) {
	q := queue.NewMemory()
	b := bus.NewMemory()
	cache := quotecache.NewMemory()
	c := newTestConnector(q, b, cache)
	ctx := context.Background()

	msgs, stop, err := b.Subscribe(ctx, "market:trades")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	c.handleMessage(ctx, []byte(`{
		"stream": "btcusdt@aggTrade",
		"data": {"e": "aggTrade", "s": "BTCUSDT", "a": 1, "p": "65000", "q": "0.5", "T": 1700000000000}
	}`))

	item, ok, err := q.Pop(ctx)
	if err != nil || !ok {
		t.Fatalf("Pop() = (%v, %v), want a queued trade", ok, err)
	}
	var queued domain.Trade
	if err := json.Unmarshal(item, &queued); err != nil {
		t.Fatalf("unmarshal queued trade: %v", err)
	}
	if queued.Symbol != "btcusdt" || queued.Price != 65000 {
		t.Errorf("queued trade = %+v, want btcusdt at 65000", queued)
	}

	select {
	case payload := <-msgs:
		var msg domain.BroadcastMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Type != domain.MessageTypeTrade {
			t.Errorf("broadcast type = %q, want aggTrade", msg.Type)
		}
		if msg.Data.Symbol != "btcusdt" {
			t.Errorf("broadcast symbol = %q, want btcusdt", msg.Data.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast message published")
	}
}

func TestHandleMessage_QuoteUpdatesCacheOnly(t *testing.T) {
	q := queue.NewMemory()
	b := bus.NewMemory()
	cache := quotecache.NewMemory()
	c := newTestConnector(q, b, cache)
	ctx := context.Background()

	c.handleMessage(ctx, []byte(`{
		"stream": "btcusdt@bookTicker",
		"data": {"e": "bookTicker", "s": "BTCUSDT", "b": "64999.5", "a": "65000.5", "E": 1700000000000}
	}`))

	snap, ok, err := cache.Get(ctx, "btcusdt")
	if err != nil || !ok {
		t.Fatalf("cache Get() = (%v, %v), want stored quote", ok, err)
	}
	if snap.Bid != 64999.5 || snap.Ask != 65000.5 {
		t.Errorf("cached quote = %v/%v, want 64999.5/65000.5", snap.Bid, snap.Ask)
	}

	// Quotes never enter the trade queue.
	if _, ok, _ := q.Pop(ctx); ok {
		t.Error("quote event was enqueued as a trade")
	}
}

func TestHandleMessage_TradeCarriesLatestQuote(t *testing.T) {
	q := queue.NewMemory()
	c := newTestConnector(q, bus.NewMemory(), quotecache.NewMemory())
	ctx := context.Background()

	c.handleMessage(ctx, []byte(`{
		"stream": "btcusdt@bookTicker",
		"data": {"e": "bookTicker", "s": "BTCUSDT", "b": "64999.5", "a": "65000.5"}
	}`))
	c.handleMessage(ctx, []byte(`{
		"stream": "btcusdt@aggTrade",
		"data": {"e": "aggTrade", "s": "BTCUSDT", "a": 1, "p": "65000", "q": "0.5", "T": 1700000000000}
	}`))

	item, ok, _ := q.Pop(ctx)
	if !ok {
		t.Fatal("no trade queued")
	}
	var trade domain.Trade
	if err := json.Unmarshal(item, &trade); err != nil {
		t.Fatalf("unmarshal trade: %v", err)
	}
	if trade.Bid == nil || *trade.Bid != 64999.5 {
		t.Errorf("Bid = %v, want snapshot 64999.5", trade.Bid)
	}
	if trade.Ask == nil || *trade.Ask != 65000.5 {
		t.Errorf("Ask = %v, want snapshot 65000.5", trade.Ask)
	}
}

func TestHandleMessage_TradeWithoutQuoteHasNilBidAsk(t *testing.T) {
	q := queue.NewMemory()
	c := newTestConnector(q, bus.NewMemory(), quotecache.NewMemory())
	ctx := context.Background()

	c.handleMessage(ctx, []byte(`{
		"stream": "ethusdt@aggTrade",
		"data": {"e": "aggTrade", "s": "ETHUSDT", "a": 1, "p": "3000", "q": "1", "T": 1700000000000}
	}`))

	item, ok, _ := q.Pop(ctx)
	if !ok {
		t.Fatal("no trade queued")
	}
	var trade domain.Trade
	if err := json.Unmarshal(item, &trade); err != nil {
		t.Fatalf("unmarshal trade: %v", err)
	}
	if trade.Bid != nil || trade.Ask != nil {
		t.Errorf("Bid/Ask = %v/%v, want nil before any quote", trade.Bid, trade.Ask)
	}
}

func TestHandleMessage_MalformedDropped(t *testing.T) {
	q := queue.NewMemory()
	c := newTestConnector(q, bus.NewMemory(), quotecache.NewMemory())
	ctx := context.Background()

	c.handleMessage(ctx, []byte(`garbage`))
	c.handleMessage(ctx, []byte(`{"stream": "x", "data": {"e": "unknown"}}`))

	if depth, _ := q.Len(ctx); depth != 0 {
		t.Errorf("queue depth = %d after malformed input, want 0", depth)
	}
}

func TestRun_ExhaustsReconnects(t *testing.T) {
	// No server behind the URL: every dial fails, so Run must walk the
	// whole backoff schedule and give up with the sentinel. Too slow
	// for -short (five delays sum to 31s).
	if testing.Short() {
		t.Skip("walks the full reconnect schedule")
	}

	c := New(Options{
		URL:     "ws://127.0.0.1:1/stream",
		Symbols: []string{"btcusdt"},
		Queue:   queue.NewMemory(),
		Bus:     bus.NewMemory(),
		Channel: "market:trades",
		Cache:   quotecache.NewMemory(),
	})

	err := c.Run(context.Background())
	if err != ErrReconnectExhausted {
		t.Errorf("Run() error = %v, want ErrReconnectExhausted", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := New(Options{
		URL:     "ws://127.0.0.1:1/stream",
		Symbols: []string{"btcusdt"},
		Queue:   queue.NewMemory(),
		Bus:     bus.NewMemory(),
		Channel: "market:trades",
		Cache:   quotecache.NewMemory(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

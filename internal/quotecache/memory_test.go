package quotecache

import (
	"context"
	"testing"
	"time"

	"market-pipeline/internal/domain"
)

func TestMemory_LastWriterWins(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	first := domain.QuoteSnapshot{Symbol: "btcusdt", Bid: 100, Ask: 101, ObservedAt: time.UnixMilli(1000)}
	second := domain.QuoteSnapshot{Symbol: "btcusdt", Bid: 102, Ask: 103, ObservedAt: time.UnixMilli(2000)}

	if err := c.Set(ctx, first); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := c.Get(ctx, "btcusdt")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Bid != 102 || got.Ask != 103 {
		t.Errorf("got bid=%v ask=%v, want 102/103", got.Bid, got.Ask)
	}
}

func TestMemory_GetMissingSymbol(t *testing.T) {
	c := NewMemory()

	_, ok, err := c.Get(context.Background(), "ethusdt")
	if err != nil {
		t.Fatalf("Get errored: %v", err)
	}
	if ok {
		t.Error("expected ok=false for symbol with no quote")
	}
}

func TestMemory_SymbolCaseInsensitive(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, domain.QuoteSnapshot{Symbol: "solusdt", Bid: 5, Ask: 6}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, _ := c.Get(ctx, "SOLUSDT")
	if !ok || got.Bid != 5 {
		t.Errorf("case-insensitive lookup failed: ok=%v bid=%v", ok, got.Bid)
	}
}

func TestKey(t *testing.T) {
	if got := Key("btcusdt"); got != "last:price:BTCUSDT" {
		t.Errorf("Key: got %q", got)
	}
}

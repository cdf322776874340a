package liquidation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"market-pipeline/internal/bus"
	"market-pipeline/internal/domain"
	"market-pipeline/internal/storage/memory"
)

func createPosition(t *testing.T, store *memory.PositionStore, p *domain.Position) {
	t.Helper()
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("create position %s: %v", p.ID, err)
	}
}

func TestEngine_EvaluateTickClosesOnTakeProfit(t *testing.T) {
	store := memory.NewPositionStore()
	engine := New(Options{Positions: store})
	ctx := context.Background()

	createPosition(t, store, longPosition())
	engine.EvaluateTick(ctx, "btcusdt", 111)

	got, err := store.GetByID(ctx, "long-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusClosed {
		t.Fatal("position still open after take-profit tick")
	}
	if got.CloseReason == nil || *got.CloseReason != domain.CloseReasonTakeProfit {
		t.Errorf("CloseReason = %v, want takeProfit", got.CloseReason)
	}
	if got.PNL == nil || *got.PNL != 11 {
		t.Errorf("PNL = %v, want 11", got.PNL)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 111 {
		t.Errorf("ExitPrice = %v, want 111", got.ExitPrice)
	}
}

func TestEngine_EvaluateTickShortScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("take profit", func(t *testing.T) {
		store := memory.NewPositionStore()
		engine := New(Options{Positions: store})
		createPosition(t, store, shortPosition())

		engine.EvaluateTick(ctx, "btcusdt", 89)

		got, _ := store.GetByID(ctx, "short-1")
		if got.CloseReason == nil || *got.CloseReason != domain.CloseReasonTakeProfit {
			t.Errorf("CloseReason = %v, want takeProfit", got.CloseReason)
		}
		if got.PNL == nil || *got.PNL != 22 {
			t.Errorf("PNL = %v, want 22", got.PNL)
		}
	})

	t.Run("stop loss", func(t *testing.T) {
		store := memory.NewPositionStore()
		engine := New(Options{Positions: store})
		createPosition(t, store, shortPosition())

		engine.EvaluateTick(ctx, "btcusdt", 106)

		got, _ := store.GetByID(ctx, "short-1")
		if got.CloseReason == nil || *got.CloseReason != domain.CloseReasonStopLoss {
			t.Errorf("CloseReason = %v, want stopLoss", got.CloseReason)
		}
		if got.PNL == nil || *got.PNL != -12 {
			t.Errorf("PNL = %v, want -12", got.PNL)
		}
	})
}

func TestEngine_ClosedPositionNeverMutatedAgain(t *testing.T) {
	store := memory.NewPositionStore()
	engine := New(Options{Positions: store})
	ctx := context.Background()

	createPosition(t, store, longPosition())

	engine.EvaluateTick(ctx, "btcusdt", 111)
	first, _ := store.GetByID(ctx, "long-1")

	// Later ticks match the stored thresholds but must not touch the
	// closed row.
	engine.EvaluateTick(ctx, "btcusdt", 84)
	engine.EvaluateTick(ctx, "btcusdt", 111)

	second, _ := store.GetByID(ctx, "long-1")
	if *second.ExitPrice != *first.ExitPrice || *second.CloseReason != *first.CloseReason {
		t.Errorf("closed position mutated: %v/%v -> %v/%v",
			*first.ExitPrice, *first.CloseReason, *second.ExitPrice, *second.CloseReason)
	}
	if !second.ClosedAt.Equal(*first.ClosedAt) {
		t.Errorf("ClosedAt mutated: %v -> %v", first.ClosedAt, second.ClosedAt)
	}
}

func TestEngine_EvaluateTickIgnoresOtherSymbols(t *testing.T) {
	store := memory.NewPositionStore()
	engine := New(Options{Positions: store})
	ctx := context.Background()

	createPosition(t, store, longPosition())
	engine.EvaluateTick(ctx, "ethusdt", 111)

	got, _ := store.GetByID(ctx, "long-1")
	if got.Status != domain.StatusOpen {
		t.Error("tick on another symbol closed the position")
	}
}

func TestEngine_EvaluateTickClosesAllQualifying(t *testing.T) {
	store := memory.NewPositionStore()
	engine := New(Options{Positions: store})
	ctx := context.Background()

	a := longPosition()
	a.ID = "a"
	b := longPosition()
	b.ID = "b"
	c := longPosition()
	c.ID = "c"
	c.TakeProfit = f64(200) // stays open
	for _, p := range []*domain.Position{a, b, c} {
		createPosition(t, store, p)
	}

	engine.EvaluateTick(ctx, "btcusdt", 111)

	open, err := store.OpenBySymbol(ctx, "btcusdt")
	if err != nil {
		t.Fatalf("OpenBySymbol() error = %v", err)
	}
	if len(open) != 1 || open[0].ID != "c" {
		t.Errorf("open after tick = %v, want only c", open)
	}
}

func TestEngine_RunConsumesBusTicks(t *testing.T) {
	b := bus.NewMemory()
	store := memory.NewPositionStore()
	engine := New(Options{Bus: b, Channel: "market:trades", Positions: store})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	createPosition(t, store, longPosition())

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let Run subscribe

	payload, _ := json.Marshal(domain.BroadcastMessage{
		Type:      domain.MessageTypeTrade,
		Data:      domain.Trade{Symbol: "btcusdt", Price: 111, Qty: 1, AggregateID: 1, TradeTime: time.Now()},
		Timestamp: time.Now(),
	})
	if err := b.Publish(ctx, "market:trades", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := store.GetByID(ctx, "long-1")
		if got.Status == domain.StatusClosed {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("position not closed from bus tick")
}

func TestEngine_RunIgnoresNonTradeMessages(t *testing.T) {
	b := bus.NewMemory()
	store := memory.NewPositionStore()
	engine := New(Options{Bus: b, Channel: "market:trades", Positions: store})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	createPosition(t, store, longPosition())

	go func() { _ = engine.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	for _, payload := range [][]byte{
		[]byte(`{"type":"hello","ts":1}`),
		[]byte(`not json at all`),
	} {
		if err := b.Publish(ctx, "market:trades", payload); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	time.Sleep(100 * time.Millisecond)

	got, _ := store.GetByID(ctx, "long-1")
	if got.Status != domain.StatusOpen {
		t.Error("non-trade message closed a position")
	}
}

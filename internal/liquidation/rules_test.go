package liquidation

import (
	"testing"

	"market-pipeline/internal/domain"
)

func f64(v float64) *float64 { return &v }

func longPosition() *domain.Position {
	return &domain.Position{
		ID:         "long-1",
		UserID:     "u1",
		Symbol:     "btcusdt",
		Side:       domain.SideLong,
		Quantity:   1,
		EntryPrice: 100,
		Leverage:   10,
		Margin:     f64(10),
		TakeProfit: f64(110),
		StopLoss:   f64(95),
		Status:     domain.StatusOpen,
	}
}

func shortPosition() *domain.Position {
	return &domain.Position{
		ID:         "short-1",
		UserID:     "u1",
		Symbol:     "btcusdt",
		Side:       domain.SideShort,
		Quantity:   2,
		EntryPrice: 100,
		Leverage:   10,
		TakeProfit: f64(90),
		StopLoss:   f64(105),
		Status:     domain.StatusOpen,
	}
}

func TestPNL(t *testing.T) {
	tests := []struct {
		name     string
		position *domain.Position
		price    float64
		want     float64
	}{
		{"long gain", longPosition(), 111, 11},
		{"long loss", longPosition(), 84, -16},
		{"short gain", shortPosition(), 89, 22},
		{"short loss", shortPosition(), 106, -12},
		{"flat", longPosition(), 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PNL(tt.position, tt.price); got != tt.want {
				t.Errorf("PNL(%v) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Long(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		wantReason domain.CloseReason
		wantClose  bool
	}{
		{"take profit at threshold", 110, domain.CloseReasonTakeProfit, true},
		{"take profit above threshold", 111, domain.CloseReasonTakeProfit, true},
		{"stop loss, margin intact", 94, domain.CloseReasonStopLoss, true},
		{"stop loss outranks margin", 84, domain.CloseReasonStopLoss, true},
		{"inside the band", 100, "", false},
		{"just above stop", 95.01, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := Evaluate(longPosition(), tt.price)
			if ok != tt.wantClose || reason != tt.wantReason {
				t.Errorf("Evaluate(%v) = (%q, %v), want (%q, %v)", tt.price, reason, ok, tt.wantReason, tt.wantClose)
			}
		})
	}
}

func TestEvaluate_Short(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		wantReason domain.CloseReason
		wantClose  bool
	}{
		{"take profit", 89, domain.CloseReasonTakeProfit, true},
		{"stop loss", 106, domain.CloseReasonStopLoss, true},
		{"inside the band", 100, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := Evaluate(shortPosition(), tt.price)
			if ok != tt.wantClose || reason != tt.wantReason {
				t.Errorf("Evaluate(%v) = (%q, %v), want (%q, %v)", tt.price, reason, ok, tt.wantReason, tt.wantClose)
			}
		})
	}
}

func TestEvaluate_MarginWithoutStopLoss(t *testing.T) {
	p := longPosition()
	p.StopLoss = nil

	reason, ok := Evaluate(p, 84)
	if !ok || reason != domain.CloseReasonMargin {
		t.Errorf("Evaluate(84) = (%q, %v), want margin close", reason, ok)
	}
	if got := PNL(p, 84); got != -16 {
		t.Errorf("PNL(84) = %v, want -16 (loss 16 >= margin 10)", got)
	}

	// Loss below the margin does not trigger.
	if reason, ok := Evaluate(p, 94); ok {
		t.Errorf("Evaluate(94) = (%q, true), want open: loss 6 < margin 10", reason)
	}
}

func TestEvaluate_MarginUsesRawQuantity(t *testing.T) {
	// Leverage does not scale the loss; only price delta times
	// quantity counts against the margin.
	p := longPosition()
	p.StopLoss = nil
	p.Leverage = 50

	if _, ok := Evaluate(p, 94); ok {
		t.Error("Evaluate(94) closed the position; leverage must not scale the loss")
	}
}

func TestEvaluate_TakeProfitOutranksStopLoss(t *testing.T) {
	// Degenerate thresholds where one tick satisfies both rules.
	p := longPosition()
	p.TakeProfit = f64(90)

	reason, ok := Evaluate(p, 90)
	if !ok || reason != domain.CloseReasonTakeProfit {
		t.Errorf("Evaluate(90) = (%q, %v), want takeProfit first", reason, ok)
	}
}

func TestEvaluate_NoThresholds(t *testing.T) {
	p := longPosition()
	p.TakeProfit = nil
	p.StopLoss = nil
	p.Margin = nil

	if reason, ok := Evaluate(p, 0.0001); ok {
		t.Errorf("Evaluate() = (%q, true), want open with no thresholds", reason)
	}
}

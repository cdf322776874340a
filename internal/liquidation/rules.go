// Package liquidation evaluates open leveraged positions against the
// live trade stream and closes the ones that hit their exit rules.
package liquidation

import "market-pipeline/internal/domain"

// PNL returns the signed profit for a position at the given price:
// sign(side) * (price - entry) * quantity. Leverage scales margin
// requirements elsewhere, not the raw price delta.
func PNL(p *domain.Position, price float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * p.Quantity
}

// hitTakeProfit reports whether price reached the take-profit level:
// at or above for longs, at or below for shorts.
func hitTakeProfit(p *domain.Position, price float64) bool {
	if p.TakeProfit == nil {
		return false
	}
	return p.Side.Sign()*(price-*p.TakeProfit) >= 0
}

// hitStopLoss reports whether price reached the stop-loss level:
// at or below for longs, at or above for shorts.
func hitStopLoss(p *domain.Position, price float64) bool {
	if p.StopLoss == nil {
		return false
	}
	return p.Side.Sign()*(price-*p.StopLoss) <= 0
}

// hitMargin reports whether the unrealized loss consumed the posted
// margin.
func hitMargin(p *domain.Position, price float64) bool {
	if p.Margin == nil {
		return false
	}
	loss := -PNL(p, price)
	if loss < 0 {
		loss = 0
	}
	return loss >= *p.Margin
}

// Evaluate applies the exit rules in strict order and returns the
// close reason, or ok=false when the position stays open. Take-profit
// wins over stop-loss, stop-loss over margin, when a single tick
// satisfies several rules.
func Evaluate(p *domain.Position, price float64) (domain.CloseReason, bool) {
	switch {
	case hitTakeProfit(p, price):
		return domain.CloseReasonTakeProfit, true
	case hitStopLoss(p, price):
		return domain.CloseReasonStopLoss, true
	case hitMargin(p, price):
		return domain.CloseReasonMargin, true
	default:
		return "", false
	}
}

package domain

import "time"

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Status of a position. A position transitions open -> closed exactly
// once and is never mutated after ClosedAt is set.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// CloseReason records what closed a position.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonTakeProfit CloseReason = "takeProfit"
	CloseReasonStopLoss   CloseReason = "stopLoss"
	CloseReasonMargin     CloseReason = "margin"
)

// Position is a leveraged position owned by the ledger store. The
// pipeline only ever transitions it open -> closed and fills the close
// fields; it never creates or deletes positions.
type Position struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	Symbol      string       `json:"symbol"`
	Side        Side         `json:"side"`
	Quantity    float64      `json:"quantity"`
	EntryPrice  float64      `json:"entryPrice"`
	Leverage    float64      `json:"leverage"`
	Margin      *float64     `json:"margin,omitempty"`
	TakeProfit  *float64     `json:"takeProfit,omitempty"`
	StopLoss    *float64     `json:"stopLoss,omitempty"`
	Status      Status       `json:"status"`
	ExitPrice   *float64     `json:"exitPrice,omitempty"`
	PNL         *float64     `json:"pnl,omitempty"`
	CloseReason *CloseReason `json:"closeReason,omitempty"`
	ClosedAt    *time.Time   `json:"closedAt,omitempty"`
}

// Validate reports whether the position satisfies the row invariants.
func (p *Position) Validate() bool {
	if p == nil || p.ID == "" || p.Symbol == "" {
		return false
	}
	if p.Side != SideLong && p.Side != SideShort {
		return false
	}
	return p.Quantity > 0 && p.Leverage >= 1
}

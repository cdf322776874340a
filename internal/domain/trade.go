package domain

import (
	"math"
	"time"
)

// Trade is one normalized aggregate trade from the upstream feed.
// Identity key: (Symbol, AggregateID, TradeTime). A trade lives only
// long enough to be enqueued, persisted and broadcast; nothing retains
// it in process memory afterwards.
type Trade struct {
	Symbol      string     `json:"symbol"`
	Price       float64    `json:"price"`
	Qty         float64    `json:"qty"`
	AggregateID int64      `json:"aggId"`
	FirstID     *int64     `json:"firstId,omitempty"`
	LastID      *int64     `json:"lastId,omitempty"`
	Maker       *bool      `json:"maker,omitempty"`
	EventTime   *time.Time `json:"eventTime,omitempty"`
	TradeTime   time.Time  `json:"tradeTime"`
	Bid         *float64   `json:"bid,omitempty"`
	Ask         *float64   `json:"ask,omitempty"`
	Source      string     `json:"source"`
}

// Validate reports whether the trade is storable: finite price and
// quantity, a symbol, and a real trade timestamp.
func (t *Trade) Validate() bool {
	if t == nil || t.Symbol == "" {
		return false
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return false
	}
	if math.IsNaN(t.Qty) || math.IsInf(t.Qty, 0) {
		return false
	}
	return !t.TradeTime.IsZero()
}

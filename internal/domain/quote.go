package domain

import "time"

// QuoteSnapshot is the latest top-of-book quote for one symbol.
// Last writer wins; no history is kept.
type QuoteSnapshot struct {
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	ObservedAt time.Time `json:"ts"`
}

package domain

import "time"

// Candle is one OHLCV bucket from a continuous-aggregate rollup.
// Derived data: read-only from the pipeline's perspective.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Rollup resolutions maintained by the persister.
const (
	Interval5m  = "5m"
	Interval30m = "30m"
	Interval1h  = "1h"
	Interval1d  = "1d"
)

// Intervals lists every supported rollup resolution.
var Intervals = []string{Interval5m, Interval30m, Interval1h, Interval1d}

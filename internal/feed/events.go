package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"market-pipeline/internal/domain"
)

// EventKind discriminates parsed upstream events.
type EventKind int

const (
	// KindUnrecognized covers malformed payloads and event types the
	// pipeline does not handle. Rejected before business logic.
	KindUnrecognized EventKind = iota
	KindTrade
	KindQuote
)

// Event is the validated form of one upstream message.
type Event struct {
	Kind  EventKind
	Trade domain.Trade
	Quote domain.QuoteSnapshot
}

// envelope is the combined-stream wrapper: {"stream": ..., "data": {...}}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// ParseEnvelope parses one upstream message into a tagged event.
// Anything unparseable or of an unknown type comes back Unrecognized;
// parsing never returns an error to the socket layer.
func ParseEnvelope(raw []byte) Event {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return Event{Kind: KindUnrecognized}
	}

	var disc struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(env.Data, &disc); err != nil {
		return Event{Kind: KindUnrecognized}
	}

	switch disc.EventType {
	case "aggTrade":
		return parseTrade(env.Data)
	case "bookTicker":
		return parseQuote(env.Data)
	default:
		return Event{Kind: KindUnrecognized}
	}
}

func parseTrade(data []byte) Event {
	var raw struct {
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		Qty       string `json:"q"`
		AggID     int64  `json:"a"`
		FirstID   *int64 `json:"f"`
		LastID    *int64 `json:"l"`
		Maker     *bool  `json:"m"`
		EventTime int64  `json:"E"`
		TradeTime int64  `json:"T"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{Kind: KindUnrecognized}
	}

	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return Event{Kind: KindUnrecognized}
	}
	qty, err := strconv.ParseFloat(raw.Qty, 64)
	if err != nil {
		return Event{Kind: KindUnrecognized}
	}
	if raw.Symbol == "" || raw.TradeTime <= 0 {
		return Event{Kind: KindUnrecognized}
	}

	trade := domain.Trade{
		Symbol:      strings.ToLower(raw.Symbol),
		Price:       price,
		Qty:         qty,
		AggregateID: raw.AggID,
		FirstID:     raw.FirstID,
		LastID:      raw.LastID,
		Maker:       raw.Maker,
		TradeTime:   time.UnixMilli(raw.TradeTime).UTC(),
		Source:      "binance",
	}
	if raw.EventTime > 0 {
		et := time.UnixMilli(raw.EventTime).UTC()
		trade.EventTime = &et
	}
	return Event{Kind: KindTrade, Trade: trade}
}

func parseQuote(data []byte) Event {
	var raw struct {
		Symbol    string `json:"s"`
		Bid       string `json:"b"`
		Ask       string `json:"a"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{Kind: KindUnrecognized}
	}

	bid, err := strconv.ParseFloat(raw.Bid, 64)
	if err != nil {
		return Event{Kind: KindUnrecognized}
	}
	ask, err := strconv.ParseFloat(raw.Ask, 64)
	if err != nil {
		return Event{Kind: KindUnrecognized}
	}
	if raw.Symbol == "" {
		return Event{Kind: KindUnrecognized}
	}

	observed := time.Now().UTC()
	if raw.EventTime > 0 {
		observed = time.UnixMilli(raw.EventTime).UTC()
	}
	return Event{Kind: KindQuote, Quote: domain.QuoteSnapshot{
		Symbol:     strings.ToLower(raw.Symbol),
		Bid:        bid,
		Ask:        ask,
		ObservedAt: observed,
	}}
}

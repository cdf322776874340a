package domain

import "time"

// BroadcastMessage is the wire shape published on the trades channel
// and forwarded verbatim by the gateway.
type BroadcastMessage struct {
	Type      string    `json:"type"`
	Data      Trade     `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Message types carried on the broadcast channel.
const (
	MessageTypeTrade = "aggTrade"
	MessageTypeHello = "hello"
)

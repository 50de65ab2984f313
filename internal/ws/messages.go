// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/kmarket/settlement/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeMarketUpdate   MsgType = "market_update"
	MsgTypePositionOpened MsgType = "position_opened"
	MsgTypeMarketResolved MsgType = "market_resolved"
	MsgTypeError          MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketUpdateMessage — broadcast whenever a market's odds or state change.
// ──────────────────────────────────────────────────────────────────────────────

// MarketUpdateMessage carries the current market snapshot. Odds are basis
// points (10000 = 1.0x).
type MarketUpdateMessage struct {
	Type      MsgType              `json:"type"`
	Market    domain.MarketSummary `json:"market"`
	Timestamp time.Time            `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionOpenedMessage — broadcast after a position is accepted.
// ──────────────────────────────────────────────────────────────────────────────

// PositionOpenedMessage notifies clients that a market absorbed new stake.
// The wallet and amount are intentionally omitted.
type PositionOpenedMessage struct {
	Type          MsgType   `json:"type"`
	MarketAddress string    `json:"market_address"`
	PositionID    uuid.UUID `json:"position_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketResolvedMessage — broadcast when a market is settled.
// ──────────────────────────────────────────────────────────────────────────────

// MarketResolvedMessage tells clients which side won.
type MarketResolvedMessage struct {
	Type          MsgType     `json:"type"`
	MarketAddress string      `json:"market_address"`
	Result        domain.Side `json:"result"`
	Timestamp     time.Time   `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}

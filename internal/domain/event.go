package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Chain events
// ──────────────────────────────────────────────────────────────────────────────

// EventKind enumerates the on-chain program events the reconciler replays.
type EventKind string

const (
	EventBetPlaced      EventKind = "bet_placed"
	EventBetClosed      EventKind = "bet_closed"
	EventBetClaimed     EventKind = "bet_claimed"
	EventMarketResolved EventKind = "market_resolved"
)

// ChainEvent is one decoded program event. It is a tagged record: Kind
// selects which of the optional payload fields are meaningful.
//
//	bet_placed:      Wallet, MarketAddress, Team, Amount, OddsBps, MultiplierBps
//	bet_closed:      Wallet, MarketAddress, ClosePriceBps, Pnl
//	bet_claimed:     Wallet, MarketAddress, Payout, Pnl
//	market_resolved: MarketAddress, Result
//
// Signature is the transaction signature carrying the event and doubles as
// the ledger idempotency key; Slot is the monotonic chain cursor.
type ChainEvent struct {
	Kind      EventKind `json:"kind"`
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`

	Wallet        string `json:"wallet,omitempty"`
	MarketAddress string `json:"market_address,omitempty"`
	Team          Side   `json:"team,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	OddsBps       int64  `json:"odds_bps,omitempty"`
	MultiplierBps int64  `json:"multiplier_bps,omitempty"`
	ClosePriceBps int64  `json:"close_price_bps,omitempty"`
	Payout        int64  `json:"payout,omitempty"`
	Pnl           int64  `json:"pnl,omitempty"`
	Result        Side   `json:"result,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Reconciler bookkeeping
// ──────────────────────────────────────────────────────────────────────────────

// SyncState is the reconciler's durable watermark. Restart resumes from
// LastProcessedSlot, never from the beginning.
type SyncState struct {
	LastProcessedSlot uint64    `json:"last_processed_slot" db:"last_processed_slot"`
	UpdatedAt         time.Time `json:"updated_at"          db:"updated_at"`
}

// FailedEvent records an event whose replay errored. The raw payload is kept
// so an explicit retry can re-invoke the same idempotent entry point.
type FailedEvent struct {
	ID         uuid.UUID       `json:"id"          db:"id"`
	Kind       EventKind       `json:"kind"        db:"kind"`
	Signature  string          `json:"signature"   db:"signature"`
	Slot       uint64          `json:"slot"        db:"slot"`
	Payload    json.RawMessage `json:"payload"     db:"payload"`
	Error      string          `json:"error"       db:"error"`
	RetryCount int             `json:"retry_count" db:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"  db:"created_at"`
}

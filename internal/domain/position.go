package domain

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// PositionType distinguishes the two logical record kinds sharing the
// positions table: an OPEN row is an entered position, a CLOSE row its exit.
type PositionType string

const (
	PositionOpen  PositionType = "OPEN"
	PositionClose PositionType = "CLOSE"
)

// PositionStatus represents the state of an OPEN row. Placed is initial;
// every other status is terminal (no transitions back).
type PositionStatus string

const (
	StatusPlaced      PositionStatus = "placed"
	StatusSettledWin  PositionStatus = "settled_win"  // market resolved in holder's favour
	StatusSettledLose PositionStatus = "settled_lose" // market resolved against holder
	StatusClosedEarly PositionStatus = "closed_early" // holder exited before resolution
	StatusCanceled    PositionStatus = "canceled"
	StatusRefunded    PositionStatus = "refunded" // market canceled; stake returned
)

// IsTerminal returns true for every status an OPEN row can never leave.
func (s PositionStatus) IsTerminal() bool {
	return s != StatusPlaced
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is one ledger row. OPEN rows carry the entry snapshot and a
// mutable status; CLOSE rows are immutable and reference their OPEN row via
// RefPositionID. TxSignature, when present, is the global idempotency key
// for on-chain-originated writes.
type Position struct {
	ID             uuid.UUID      `json:"id"                    db:"id"`
	Type           PositionType   `json:"position_type"         db:"position_type"`
	WalletAddress  string         `json:"wallet_address"        db:"wallet_address"`
	MarketID       uuid.UUID      `json:"market_id"             db:"market_id"`
	RefPositionID  *uuid.UUID     `json:"ref_position_id"       db:"ref_position_id"`
	SelectedTeam   Side           `json:"selected_team"         db:"selected_team"`
	Amount         int64          `json:"amount"                db:"amount"` // minor units
	MultiplierBps  int64          `json:"multiplier_bps"        db:"multiplier_bps"`
	EntryOddsBps   int64          `json:"entry_odds_bps"        db:"entry_odds_bps"` // odds for the selected side at open
	OddsHomeBps    int64          `json:"odds_home_bps"         db:"odds_home_bps"`  // full snapshot at entry
	OddsAwayBps    int64          `json:"odds_away_bps"         db:"odds_away_bps"`
	PayoutExpected int64          `json:"payout_expected"       db:"payout_expected"`
	Status         PositionStatus `json:"status"                db:"status"`
	TxSignature    *string        `json:"transaction_signature" db:"transaction_signature"`
	ClosePriceBps  *int64         `json:"close_price_bps"       db:"close_price_bps"`
	Pnl            *int64         `json:"pnl"                   db:"pnl"`
	FeePaid        int64          `json:"fee_paid"              db:"fee_paid"`
	ClaimedAt      *time.Time     `json:"claimed_at"            db:"claimed_at"`
	PlacedAt       time.Time      `json:"placed_at"             db:"placed_at"`
	ClosedAt       *time.Time     `json:"closed_at"             db:"closed_at"`
	CreatedAt      time.Time      `json:"created_at"            db:"created_at"`
}

// IsPlaced returns true while the OPEN row can still be closed or settled.
func (p *Position) IsPlaced() bool {
	return p.Type == PositionOpen && p.Status == StatusPlaced
}

// ──────────────────────────────────────────────────────────────────────────────
// Request / result value objects used by the ledger service
// ──────────────────────────────────────────────────────────────────────────────

// PlaceOpenRequest carries the validated inputs for opening a position.
type PlaceOpenRequest struct {
	WalletAddress string
	MarketAddress string
	SelectedTeam  Side
	Amount        int64
	MultiplierBps int64
	TxSignature   *string // optional; present for on-chain-originated opens
}

// PlaceOpenResult is returned by PlaceOpen. Duplicate is true when the
// request's signature was already applied and the prior row is returned.
type PlaceOpenResult struct {
	PositionID     uuid.UUID `json:"position_id"`
	PayoutExpected int64     `json:"payout_expected"`
	Duplicate      bool      `json:"duplicate,omitempty"`
}

// PlaceCloseRequest carries the validated inputs for closing a position.
// ClosePriceBps, when nil, falls back to the market's current odds for the
// held side.
type PlaceCloseRequest struct {
	PositionID    uuid.UUID
	WalletAddress string
	ClosePriceBps *int64
	TxSignature   *string
}

// PlaceCloseResult is returned by PlaceClose.
type PlaceCloseResult struct {
	CloseID   uuid.UUID `json:"close_id"`
	Pnl       int64     `json:"pnl"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// PositionFilter narrows a ledger query. Zero values mean "no filter".
type PositionFilter struct {
	WalletAddress string
	MarketAddress string
	Type          PositionType
	Status        PositionStatus
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

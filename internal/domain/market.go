// Package domain defines the core business entities and types for the
// kmarket sports betting settlement service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// MarketState represents the lifecycle state of a market.
type MarketState string

const (
	StateOpen     MarketState = "open"     // accepting positions
	StateClosed   MarketState = "closed"   // betting window over, awaiting resolution
	StateResolved MarketState = "resolved" // winner determined, positions settled
	StateCanceled MarketState = "canceled" // voided; all positions refunded
)

// Side identifies one of the two market outcomes.
// 1 = home (option A), 2 = away (option B). 0 means "no result yet".
type Side int16

const (
	SideNone Side = 0
	SideHome Side = 1
	SideAway Side = 2
)

// IsValid returns true if the side is a bettable outcome.
func (s Side) IsValid() bool {
	return s == SideHome || s == SideAway
}

// BpsOne is the basis-point representation of 1.0 (odds and multipliers).
const BpsOne int64 = 10000

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market represents a single two-outcome sports market. Odds are fixed
// basis-point snapshots set at creation and updated by the odds feed; amounts
// are integer minor units of the settlement currency.
type Market struct {
	ID              uuid.UUID   `json:"id"               db:"id"`
	MarketAddress   string      `json:"market_address"   db:"market_address"` // on-chain correlation key
	HomeCode        string      `json:"home_code"        db:"home_code"`
	AwayCode        string      `json:"away_code"        db:"away_code"`
	OddsHomeBps     int64       `json:"odds_home_bps"    db:"odds_home_bps"`
	OddsAwayBps     int64       `json:"odds_away_bps"    db:"odds_away_bps"`
	StartTime       time.Time   `json:"start_time"       db:"start_time"`
	CloseTime       time.Time   `json:"close_time"       db:"close_time"`
	State           MarketState `json:"state"            db:"state"`
	Result          Side        `json:"result"           db:"result"`
	MaxExposure     int64       `json:"max_exposure"     db:"max_exposure"`
	CurrentExposure int64       `json:"current_exposure" db:"current_exposure"`
	Version         int64       `json:"version"          db:"version"` // optimistic concurrency for admin edits
	CreatedAt       time.Time   `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"       db:"updated_at"`
}

// IsOpen returns true while the market state accepts positions.
func (m *Market) IsOpen() bool {
	return m.State == StateOpen
}

// AcceptsPositions returns true when a position may be opened at the given
// instant: the market must be StateOpen and its betting window still running.
// close_time elapsing blocks new positions only; it never resolves anything.
func (m *Market) AcceptsPositions(now time.Time) bool {
	return m.State == StateOpen && now.Before(m.CloseTime)
}

// CanResolve returns true if an explicit resolution is a legal transition.
func (m *Market) CanResolve() bool {
	return m.State == StateOpen || m.State == StateClosed
}

// OddsFor returns the current odds for the given side in basis points.
// Returns 0 when the side has no odds (caller maps that to ErrMissingOdds).
func (m *Market) OddsFor(side Side) int64 {
	switch side {
	case SideHome:
		return m.OddsHomeBps
	case SideAway:
		return m.OddsAwayBps
	}
	return 0
}

// RemainingCapacity returns how much stake the market can still absorb.
func (m *Market) RemainingCapacity() int64 {
	c := m.MaxExposure - m.CurrentExposure
	if c < 0 {
		return 0
	}
	return c
}

// TimeLeft returns the duration remaining until the betting window closes.
// Returns 0 if the closing time has already passed.
func (m *Market) TimeLeft() time.Duration {
	remaining := time.Until(m.CloseTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ──────────────────────────────────────────────────────────────────────────────
// CreateMarketRequest — value object used by the back-office
// ──────────────────────────────────────────────────────────────────────────────

// CreateMarketRequest carries the validated inputs for creating a market.
type CreateMarketRequest struct {
	MarketAddress string
	HomeCode      string
	AwayCode      string
	OddsHomeBps   int64
	OddsAwayBps   int64
	StartTime     time.Time
	CloseTime     time.Time
	MaxExposure   int64
}

// MarketSummary is a derived, read-only view of a Market used for WS
// broadcasts and list endpoints.
type MarketSummary struct {
	ID            uuid.UUID   `json:"id"`
	MarketAddress string      `json:"market_address"`
	HomeCode      string      `json:"home_code"`
	AwayCode      string      `json:"away_code"`
	State         MarketState `json:"state"`
	Result        Side        `json:"result"`
	OddsHomeBps   int64       `json:"odds_home_bps"`
	OddsAwayBps   int64       `json:"odds_away_bps"`
	CloseTime     time.Time   `json:"close_time"`
	TimeLeftSec   int64       `json:"time_left_sec"`
}

// ToSummary builds a MarketSummary snapshot.
func (m *Market) ToSummary() MarketSummary {
	return MarketSummary{
		ID:            m.ID,
		MarketAddress: m.MarketAddress,
		HomeCode:      m.HomeCode,
		AwayCode:      m.AwayCode,
		State:         m.State,
		Result:        m.Result,
		OddsHomeBps:   m.OddsHomeBps,
		OddsAwayBps:   m.OddsAwayBps,
		CloseTime:     m.CloseTime,
		TimeLeftSec:   int64(m.TimeLeft().Seconds()),
	}
}

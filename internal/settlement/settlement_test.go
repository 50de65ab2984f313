package settlement_test

import (
	"testing"

	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/settlement"
)

// TestOpenPayout validates the entry payout calculation. No I/O — pure
// arithmetic.
//
//	Scenario:
//	  odds_home_bps = 18000 (1.8x), multiplier = 20000 (2x), stake = 100000
//	  payout = round(100000 × 1.8 × 2) = 360000
func TestOpenPayout(t *testing.T) {
	tests := []struct {
		name          string
		amount        int64
		oddsBps       int64
		multiplierBps int64
		want          int64
	}{
		{"home at 1.8x with 2x leverage", 100000, 18000, 20000, 360000},
		{"away at 2.0x unleveraged", 100000, 20000, 10000, 200000},
		{"even odds", 50000, 10000, 10000, 50000},
		{"rounding half-up", 1, 15000, 10000, 2}, // 1 × 1.5 = 1.5 → 2
		{"large stake does not overflow", 9_000_000_000_000, 25000, 30000, 67_500_000_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := settlement.ComputeOpenPayout(tt.amount, tt.oddsBps, tt.multiplierBps)
			if got != tt.want {
				t.Errorf("ComputeOpenPayout(%d, %d, %d) = %d, want %d",
					tt.amount, tt.oddsBps, tt.multiplierBps, got, tt.want)
			}
		})
	}
}

// TestClosePnl validates the exit PnL calculation:
//
//	entry 18000, exit 19000, stake 100000, multiplier 2x, no fee
//	pnl = round(100000 × (19000−18000)/10000 × 2) = 20000
func TestClosePnl(t *testing.T) {
	tests := []struct {
		name                     string
		amount, entry, exit      int64
		multiplierBps, fee, want int64
	}{
		{"price moved up", 100000, 18000, 19000, 20000, 0, 20000},
		{"price moved down", 100000, 18000, 17000, 20000, 0, -20000},
		{"unleveraged move", 100000, 18000, 19000, 10000, 0, 10000},
		{"fee subtracted", 100000, 18000, 19000, 10000, 500, 9500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := settlement.ComputeClosePnl(tt.amount, tt.entry, tt.exit, tt.multiplierBps, tt.fee)
			if got != tt.want {
				t.Errorf("ComputeClosePnl(%d, %d, %d, %d, %d) = %d, want %d",
					tt.amount, tt.entry, tt.exit, tt.multiplierBps, tt.fee, got, tt.want)
			}
		})
	}
}

// TestClosePnl_FlatExit pins the round-trip property: closing at the entry
// price loses exactly the fee, nothing else.
func TestClosePnl_FlatExit(t *testing.T) {
	for _, fee := range []int64{0, 1, 250, 9999} {
		got := settlement.ComputeClosePnl(123456, 18000, 18000, 25000, fee)
		if got != -fee {
			t.Errorf("flat exit with fee %d: pnl = %d, want %d", fee, got, -fee)
		}
	}
}

func TestCloseFee(t *testing.T) {
	if got := settlement.ComputeCloseFee(100000, 500); got != 5000 { // 5%
		t.Errorf("fee = %d, want 5000", got)
	}
	if got := settlement.ComputeCloseFee(100000, 0); got != 0 {
		t.Errorf("zero-rate fee = %d, want 0", got)
	}
	if got := settlement.ComputeCloseFee(3, 500); got != 0 { // 0.15 rounds to 0
		t.Errorf("tiny fee = %d, want 0", got)
	}
}

// TestSettleOutcome checks the resolution convention: winners get
// payout_expected − amount, losers get −amount.
func TestSettleOutcome(t *testing.T) {
	status, pnl := settlement.SettleOutcome(domain.SideHome, domain.SideHome, 100000, 360000)
	if status != domain.StatusSettledWin || pnl != 260000 {
		t.Errorf("winner: got (%s, %d), want (settled_win, 260000)", status, pnl)
	}

	status, pnl = settlement.SettleOutcome(domain.SideAway, domain.SideHome, 100000, 360000)
	if status != domain.StatusSettledLose || pnl != -100000 {
		t.Errorf("loser: got (%s, %d), want (settled_lose, -100000)", status, pnl)
	}
}

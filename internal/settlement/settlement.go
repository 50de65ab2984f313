// Package settlement holds the pure payout and PnL arithmetic for the
// position ledger. All inputs and outputs are integers: amounts in minor
// currency units, odds and multipliers in basis points (10000 = 1.0x).
// Intermediate products go through shopspring/decimal so that
// amount × odds × multiplier cannot overflow int64.
package settlement

import (
	"github.com/kmarket/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

var bpsOne = decimal.NewFromInt(domain.BpsOne)

// ComputeOpenPayout returns the expected payout for an opening position:
//
//	payout = round(amount × oddsBps/10000 × multiplierBps/10000)
//
// Rounding is half-up (all factors are positive here).
func ComputeOpenPayout(amount, oddsBps, multiplierBps int64) int64 {
	payout := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(oddsBps)).Div(bpsOne).
		Mul(decimal.NewFromInt(multiplierBps)).Div(bpsOne)
	return payout.Round(0).IntPart()
}

// ComputeClosePnl returns the realised profit-and-loss for a close:
//
//	pnl = round(amount × (exitBps − entryBps)/10000 × multiplierBps/10000) − feePaid
//
// A flat exit (exitBps == entryBps) therefore yields exactly −feePaid.
func ComputeClosePnl(amount, entryOddsBps, exitOddsBps, multiplierBps, feePaid int64) int64 {
	delta := decimal.NewFromInt(exitOddsBps - entryOddsBps)
	pnl := decimal.NewFromInt(amount).
		Mul(delta).Div(bpsOne).
		Mul(decimal.NewFromInt(multiplierBps)).Div(bpsOne)
	return pnl.Round(0).IntPart() - feePaid
}

// ComputeCloseFee returns the fee taken on a user-initiated early close.
// feeBps is the configured fee rate in basis points; resolution-driven
// settles carry no fee.
func ComputeCloseFee(amount, feeBps int64) int64 {
	if feeBps <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(feeBps)).Div(bpsOne).
		Round(0).IntPart()
}

// SettleOutcome maps an OPEN row to its resolution result. Winners realise
// payout_expected − amount; losers forfeit their stake.
func SettleOutcome(selected, winner domain.Side, amount, payoutExpected int64) (domain.PositionStatus, int64) {
	if selected == winner {
		return domain.StatusSettledWin, payoutExpected - amount
	}
	return domain.StatusSettledLose, -amount
}

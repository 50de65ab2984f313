package service

import (
	"errors"
	"fmt"
	"testing"
)

// isSignatureConflict must recognise lib/pq's unique-violation message for
// the ledger's signature column and nothing else: a conflict on another
// constraint has to surface as a real error, not a duplicate short-circuit.
func TestIsSignatureConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			"signature unique violation",
			errors.New(`pq: duplicate key value violates unique constraint "positions_transaction_signature_key"`),
			true,
		},
		{
			"wrapped signature violation",
			fmt.Errorf("position_repo.Insert: %w",
				errors.New(`pq: duplicate key value violates unique constraint "positions_transaction_signature_key"`)),
			true,
		},
		{
			"different unique constraint",
			errors.New(`pq: duplicate key value violates unique constraint "markets_market_address_key"`),
			false,
		},
		{
			"unrelated error",
			errors.New("pq: connection refused"),
			false,
		},
		{
			"nil",
			nil,
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isSignatureConflict(tc.err); got != tc.want {
				t.Errorf("isSignatureConflict(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

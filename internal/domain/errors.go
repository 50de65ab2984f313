package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market errors
var (
	// ErrMarketNotFound is returned when no market matches the given criteria.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketClosed is returned when a position placement is attempted on a
	// market that is not open or whose betting window has elapsed.
	ErrMarketClosed = errors.New("market is not accepting positions")

	// ErrMissingOdds is returned when the selected side has no odds set.
	ErrMissingOdds = errors.New("odds missing for the selected side")

	// ErrExposureExceeded is returned when a placement would push the market's
	// current exposure past its cap.
	ErrExposureExceeded = errors.New("market exposure cap exceeded")

	// ErrMarketAlreadyResolved is returned when trying to resolve an already-
	// resolved or canceled market.
	ErrMarketAlreadyResolved = errors.New("market is already resolved")

	// ErrInvalidTransition is returned on an illegal market state change.
	ErrInvalidTransition = errors.New("invalid market state transition")

	// ErrVersionConflict is returned when an admin-driven update carries a
	// stale expected version.
	ErrVersionConflict = errors.New("market version conflict")
)

// Position / ledger errors
var (
	// ErrOpenNotFound is returned when the referenced OPEN row does not exist
	// or is no longer in placed status (already closed or settled).
	ErrOpenNotFound = errors.New("open position not found")

	// ErrWalletMismatch is returned when a close request's wallet does not own
	// the OPEN row. Never retryable.
	ErrWalletMismatch = errors.New("wallet does not own this position")

	// ErrInvalidSide is returned when selected_team is not 1 or 2.
	ErrInvalidSide = errors.New("selected team must be 1 (home) or 2 (away)")

	// ErrInvalidAmount is returned when the stake is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidMultiplier is returned when multiplier_bps is below 1.0x.
	ErrInvalidMultiplier = errors.New("multiplier must be at least 10000 bps")

	// ErrResolutionFailed wraps any error that aborted a resolution sweep.
	// The whole sweep rolls back; callers should retry.
	ErrResolutionFailed = errors.New("market resolution failed")
)

// Auth errors (back-office)
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated admin lacks the role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its
	// signature does not match.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrInvalidCredentials is returned when admin login credentials are wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrMarketNotFound,
	ErrOpenNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values
// directly when translating domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrMarketClosed,
		ErrMarketAlreadyResolved,
		ErrInvalidTransition,
		ErrVersionConflict,
		ErrExposureExceeded,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	authErrors := []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrInvalidCredentials,
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

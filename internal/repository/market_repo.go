package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/domain"
)

// MarketRepository handles all database operations for Markets.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// Create inserts a new market row.
func (r *MarketRepository) Create(ctx context.Context, m *domain.Market) error {
	query := `
		INSERT INTO markets
			(id, market_address, home_code, away_code, odds_home_bps, odds_away_bps,
			 start_time, close_time, state, result, max_exposure, current_exposure,
			 version, created_at, updated_at)
		VALUES
			(:id, :market_address, :home_code, :away_code, :odds_home_bps, :odds_away_bps,
			 :start_time, :close_time, :state, :result, :max_exposure, :current_exposure,
			 :version, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return fmt.Errorf("market_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a market by its primary key.
func (r *MarketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByID: %w", err)
	}
	return &m, nil
}

// GetByAddress fetches a market by its on-chain correlation key.
func (r *MarketRepository) GetByAddress(ctx context.Context, address string) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE market_address = $1`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByAddress: %w", err)
	}
	return &m, nil
}

// GetForUpdate fetches a market by address and takes an exclusive row lock
// for the duration of the caller's transaction. The market row is the single
// serialization point for all placement and settlement against that market.
func (r *MarketRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, address string) (*domain.Market, error) {
	var m domain.Market
	err := tx.GetContext(ctx, &m,
		`SELECT * FROM markets WHERE market_address = $1 FOR UPDATE`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetForUpdate: %w", err)
	}
	return &m, nil
}

// GetForUpdateByID is GetForUpdate keyed by primary key.
func (r *MarketRepository) GetForUpdateByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetForUpdateByID: %w", err)
	}
	return &m, nil
}

// AdjustExposure changes current_exposure by delta inside an existing
// transaction. The caller must already hold the market row lock. A positive
// delta that would breach max_exposure returns ErrExposureExceeded.
func (r *MarketRepository) AdjustExposure(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, delta int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE markets
		SET current_exposure = current_exposure + $1,
		    updated_at       = now()
		WHERE id = $2
		  AND current_exposure + $1 BETWEEN 0 AND max_exposure`,
		delta, marketID)
	if err != nil {
		return fmt.Errorf("market_repo.AdjustExposure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if delta > 0 {
			return domain.ErrExposureExceeded
		}
		// A negative adjustment below zero means the counter and the ledger
		// disagree; clamp to zero rather than abort the settlement.
		if _, err = tx.ExecContext(ctx,
			`UPDATE markets SET current_exposure = 0, updated_at = now() WHERE id = $1`,
			marketID); err != nil {
			return fmt.Errorf("market_repo.AdjustExposure clamp: %w", err)
		}
	}
	return nil
}

// Resolve sets result and state=resolved inside the caller's transaction.
// Only open/closed markets may resolve.
func (r *MarketRepository) Resolve(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, winner domain.Side) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE markets
		SET state      = 'resolved',
		    result     = $1,
		    version    = version + 1,
		    updated_at = now()
		WHERE id = $2 AND state IN ('open','closed')`,
		int16(winner), marketID)
	if err != nil {
		return fmt.Errorf("market_repo.Resolve: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Deactivate transitions an open market to closed, blocking new positions
// while leaving existing ones to be resolved later. expectedVersion guards
// against concurrent admin edits.
func (r *MarketRepository) Deactivate(ctx context.Context, marketID uuid.UUID, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE markets
		SET state = 'closed', version = version + 1, updated_at = now()
		WHERE id = $1 AND state = 'open' AND version = $2`,
		marketID, expectedVersion)
	if err != nil {
		return fmt.Errorf("market_repo.Deactivate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionConflict(ctx, marketID, expectedVersion)
	}
	return nil
}

// Cancel marks the market as canceled inside the caller's transaction.
// Refunding its placed positions is the caller's responsibility.
func (r *MarketRepository) Cancel(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE markets
		SET state = 'canceled', version = version + 1, updated_at = now()
		WHERE id = $1 AND state IN ('open','closed')`,
		marketID)
	if err != nil {
		return fmt.Errorf("market_repo.Cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// UpdateOdds refreshes the odds snapshot on an open market, with optimistic
// version checking for admin-driven edits.
func (r *MarketRepository) UpdateOdds(ctx context.Context, marketID uuid.UUID, homeBps, awayBps, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE markets
		SET odds_home_bps = $1, odds_away_bps = $2, version = version + 1, updated_at = now()
		WHERE id = $3 AND state = 'open' AND version = $4`,
		homeBps, awayBps, marketID, expectedVersion)
	if err != nil {
		return fmt.Errorf("market_repo.UpdateOdds: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionConflict(ctx, marketID, expectedVersion)
	}
	return nil
}

// transitionConflict distinguishes "row gone", "stale version", and "wrong
// state" after a conditional update matched nothing.
func (r *MarketRepository) transitionConflict(ctx context.Context, marketID uuid.UUID, expectedVersion int64) error {
	m, err := r.GetByID(ctx, marketID)
	if err != nil {
		return err
	}
	if m.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	return domain.ErrInvalidTransition
}

// List returns a paginated slice of markets filtered by optional state.
// state="" returns all states. Returns (markets, totalCount, error).
func (r *MarketRepository) List(ctx context.Context, limit, offset int, state string) ([]*domain.Market, int, error) {
	var markets []*domain.Market
	var total int

	if state != "" {
		if err := r.db.GetContext(ctx, &total,
			`SELECT COUNT(*) FROM markets WHERE state = $1`, state); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets WHERE state = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`,
			state, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	} else {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM markets`); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets ORDER BY start_time DESC LIMIT $1 OFFSET $2`,
			limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	}
	return markets, total, nil
}

// CountByState returns market counts grouped by state for the dashboard.
func (r *MarketRepository) CountByState(ctx context.Context) (map[domain.MarketState]int, error) {
	type row struct {
		State domain.MarketState `db:"state"`
		Count int                `db:"count"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows,
		`SELECT state, COUNT(*) AS count FROM markets GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("market_repo.CountByState: %w", err)
	}
	counts := make(map[domain.MarketState]int, len(rows))
	for _, rw := range rows {
		counts[rw.State] = rw.Count
	}
	return counts, nil
}

// GetExpiredOpen returns open markets whose betting window has elapsed.
// Used by the back-office to surface markets awaiting explicit resolution;
// nothing resolves automatically.
func (r *MarketRepository) GetExpiredOpen(ctx context.Context, now time.Time) ([]*domain.Market, error) {
	var markets []*domain.Market
	err := r.db.SelectContext(ctx, &markets,
		`SELECT * FROM markets WHERE state = 'open' AND close_time <= $1 ORDER BY close_time ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("market_repo.GetExpiredOpen: %w", err)
	}
	return markets, nil
}

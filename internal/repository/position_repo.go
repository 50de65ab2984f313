package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/domain"
)

// PositionRepository handles all database operations for the position ledger.
type PositionRepository struct {
	db *sqlx.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `
	(id, position_type, wallet_address, market_id, ref_position_id, selected_team,
	 amount, multiplier_bps, entry_odds_bps, odds_home_bps, odds_away_bps,
	 payout_expected, status, transaction_signature, close_price_bps, pnl,
	 fee_paid, claimed_at, placed_at, closed_at, created_at)
	VALUES
	(:id, :position_type, :wallet_address, :market_id, :ref_position_id, :selected_team,
	 :amount, :multiplier_bps, :entry_odds_bps, :odds_home_bps, :odds_away_bps,
	 :payout_expected, :status, :transaction_signature, :close_price_bps, :pnl,
	 :fee_paid, :claimed_at, :placed_at, :closed_at, :created_at)`

// Insert writes a ledger row (OPEN or CLOSE) inside an existing transaction.
func (r *PositionRepository) Insert(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO positions `+positionColumns, p); err != nil {
		return fmt.Errorf("position_repo.Insert: %w", err)
	}
	return nil
}

// GetByID fetches a ledger row by its primary key.
func (r *PositionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	var p domain.Position
	err := r.db.GetContext(ctx, &p, `SELECT * FROM positions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOpenNotFound
		}
		return nil, fmt.Errorf("position_repo.GetByID: %w", err)
	}
	return &p, nil
}

// GetBySignature looks up a row by its transaction signature inside the
// caller's transaction. This is the read half of the idempotency guard; the
// unique constraint on transaction_signature is the write half.
func (r *PositionRepository) GetBySignature(ctx context.Context, tx *sqlx.Tx, signature string) (*domain.Position, error) {
	var p domain.Position
	err := tx.GetContext(ctx, &p,
		`SELECT * FROM positions WHERE transaction_signature = $1`, signature)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("position_repo.GetBySignature: %w", err)
	}
	return &p, nil
}

// GetOpenForUpdate fetches an OPEN row and locks it for the duration of the
// caller's transaction. Returns ErrOpenNotFound when the row does not exist,
// is not an OPEN row, or has already left placed status — the second of two
// concurrent closes lands here after the first one's commit.
func (r *PositionRepository) GetOpenForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Position, error) {
	var p domain.Position
	err := tx.GetContext(ctx, &p, `
		SELECT * FROM positions
		WHERE id = $1 AND position_type = 'OPEN' AND status = 'placed'
		FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOpenNotFound
		}
		return nil, fmt.Errorf("position_repo.GetOpenForUpdate: %w", err)
	}
	return &p, nil
}

// MarkClosed flips an OPEN row out of placed status, recording the close
// details. Only rows still status='placed' match, so a double close affects
// zero rows and surfaces as ErrOpenNotFound.
func (r *PositionRepository) MarkClosed(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status domain.PositionStatus, closePriceBps, pnl, feePaid int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status          = $1,
		    close_price_bps = $2,
		    pnl             = $3,
		    fee_paid        = $4,
		    closed_at       = now()
		WHERE id = $5 AND position_type = 'OPEN' AND status = 'placed'`,
		string(status), closePriceBps, pnl, feePaid, id)
	if err != nil {
		return fmt.Errorf("position_repo.MarkClosed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOpenNotFound
	}
	return nil
}

// ListPlacedForUpdate returns every OPEN row still placed against a market,
// locked for the caller's transaction. Used by the resolution sweep.
func (r *PositionRepository) ListPlacedForUpdate(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := tx.SelectContext(ctx, &positions, `
		SELECT * FROM positions
		WHERE market_id = $1 AND position_type = 'OPEN' AND status = 'placed'
		ORDER BY placed_at ASC
		FOR UPDATE`, marketID)
	if err != nil {
		return nil, fmt.Errorf("position_repo.ListPlacedForUpdate: %w", err)
	}
	return positions, nil
}

// GetPlacedByWalletMarket returns the oldest placed OPEN row a wallet holds
// on a market. Chain close events identify positions by wallet and market,
// not by ledger id.
func (r *PositionRepository) GetPlacedByWalletMarket(ctx context.Context, wallet string, marketID uuid.UUID) (*domain.Position, error) {
	var p domain.Position
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM positions
		WHERE wallet_address = $1 AND market_id = $2
		  AND position_type = 'OPEN' AND status = 'placed'
		ORDER BY placed_at ASC
		LIMIT 1`, wallet, marketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOpenNotFound
		}
		return nil, fmt.Errorf("position_repo.GetPlacedByWalletMarket: %w", err)
	}
	return &p, nil
}

// CountPlaced returns the number of live (placed OPEN) rows across all markets.
func (r *PositionRepository) CountPlaced(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM positions
		WHERE position_type = 'OPEN' AND status = 'placed'`)
	if err != nil {
		return 0, fmt.Errorf("position_repo.CountPlaced: %w", err)
	}
	return n, nil
}

// MarkClaimed stamps claimed_at on the settled OPEN row matching the wallet
// and market. Idempotent: already-claimed rows are left untouched.
func (r *PositionRepository) MarkClaimed(ctx context.Context, wallet string, marketID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE positions
		SET claimed_at = $1
		WHERE wallet_address = $2 AND market_id = $3
		  AND position_type = 'OPEN'
		  AND status IN ('settled_win','settled_lose','closed_early')
		  AND claimed_at IS NULL`,
		at, wallet, marketID)
	if err != nil {
		return fmt.Errorf("position_repo.MarkClaimed: %w", err)
	}
	return nil
}

// Query returns a filtered, paginated page of ledger rows, newest first.
// Standard offset pagination — restartable, no streaming cursor.
func (r *PositionRepository) Query(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, int, error) {
	var where []string
	var args []interface{}

	if f.WalletAddress != "" {
		args = append(args, f.WalletAddress)
		where = append(where, "p.wallet_address = $"+strconv.Itoa(len(args)))
	}
	if f.MarketAddress != "" {
		args = append(args, f.MarketAddress)
		where = append(where, "m.market_address = $"+strconv.Itoa(len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, "p.position_type = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "p.status = $"+strconv.Itoa(len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, "p.created_at >= $"+strconv.Itoa(len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, "p.created_at < $"+strconv.Itoa(len(args)))
	}

	cond := "TRUE"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}
	base := ` FROM positions p JOIN markets m ON m.id = p.market_id WHERE ` + cond

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)`+base, args...); err != nil {
		return nil, 0, fmt.Errorf("position_repo.Query count: %w", err)
	}

	args = append(args, f.Limit)
	limitIdx := len(args)
	args = append(args, f.Offset)
	offsetIdx := len(args)

	var positions []*domain.Position
	query := `SELECT p.*` + base +
		` ORDER BY p.created_at DESC LIMIT $` + strconv.Itoa(limitIdx) +
		` OFFSET $` + strconv.Itoa(offsetIdx)
	if err := r.db.SelectContext(ctx, &positions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("position_repo.Query select: %w", err)
	}
	return positions, total, nil
}

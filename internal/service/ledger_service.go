package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/config"
	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/metrics"
	"github.com/kmarket/settlement/internal/repository"
	"github.com/kmarket/settlement/internal/settlement"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into LedgerService to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Broadcaster is the minimal interface LedgerService needs from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastPositionOpened(marketAddress string, positionID uuid.UUID)
	BroadcastMarketUpdate(summary *domain.MarketSummary)
	BroadcastMarketResolved(marketAddress string, result domain.Side)
}

// Invalidator is the minimal interface LedgerService needs from the market
// cache. Implemented by cache.MarketCache.
type Invalidator interface {
	Invalidate(ctx context.Context, marketAddress string)
}

// ──────────────────────────────────────────────────────────────────────────────
// LedgerService
// ──────────────────────────────────────────────────────────────────────────────

// LedgerService orchestrates position opening and early close. Every ledger
// write happens inside a single PostgreSQL transaction that holds the market
// row lock, so exposure accounting and the idempotency guard are atomic with
// the ledger append itself.
type LedgerService struct {
	db           *sqlx.DB
	positionRepo *repository.PositionRepository
	marketRepo   *repository.MarketRepository
	cfg          *config.Config
	log          *slog.Logger
	broadcaster  Broadcaster // injected after WS Hub is built
	invalidator  Invalidator // injected after cache is built
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(
	db *sqlx.DB,
	positionRepo *repository.PositionRepository,
	marketRepo *repository.MarketRepository,
	cfg *config.Config,
	log *slog.Logger,
) *LedgerService {
	return &LedgerService{
		db:           db,
		positionRepo: positionRepo,
		marketRepo:   marketRepo,
		cfg:          cfg,
		log:          log.With("component", "ledger"),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *LedgerService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetInvalidator injects the market cache dependency post-construction.
func (s *LedgerService) SetInvalidator(i Invalidator) { s.invalidator = i }

// ──────────────────────────────────────────────────────────────────────────────
// PlaceOpen
// ──────────────────────────────────────────────────────────────────────────────

// PlaceOpen validates the request, locks the market row, reserves exposure,
// and appends the OPEN ledger row atomically. Replaying a request with an
// already-seen transaction signature returns the original row's id with
// Duplicate set and performs no writes.
func (s *LedgerService) PlaceOpen(ctx context.Context, req domain.PlaceOpenRequest) (*domain.PlaceOpenResult, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if !req.SelectedTeam.IsValid() {
		return nil, domain.ErrInvalidSide
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.MultiplierBps < domain.BpsOne {
		return nil, domain.ErrInvalidMultiplier
	}

	// ── 2. Begin transaction ─────────────────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.PlaceOpen: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 3. Idempotency guard ─────────────────────────────────────────────────
	if req.TxSignature != nil {
		prior, lookErr := s.positionRepo.GetBySignature(ctx, tx, *req.TxSignature)
		if lookErr == nil {
			_ = tx.Rollback()
			metrics.DuplicateSignatures.Inc()
			return &domain.PlaceOpenResult{
				PositionID:     prior.ID,
				PayoutExpected: prior.PayoutExpected,
				Duplicate:      true,
			}, nil
		}
		if !errors.Is(lookErr, sql.ErrNoRows) {
			err = lookErr
			return nil, err
		}
	}

	// ── 4. Lock market and verify it accepts positions ───────────────────────
	market, err := s.marketRepo.GetForUpdate(ctx, tx, req.MarketAddress)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.PlaceOpen: get market: %w", err)
	}
	if !market.AcceptsPositions(time.Now().UTC()) {
		err = domain.ErrMarketClosed
		return nil, err
	}

	// ── 5. Snapshot entry odds ───────────────────────────────────────────────
	entryOdds := market.OddsFor(req.SelectedTeam)
	if entryOdds <= 0 {
		err = domain.ErrMissingOdds
		return nil, err
	}
	payout := settlement.ComputeOpenPayout(req.Amount, entryOdds, req.MultiplierBps)

	// ── 6. Reserve exposure ──────────────────────────────────────────────────
	if err = s.marketRepo.AdjustExposure(ctx, tx, market.ID, req.Amount); err != nil {
		return nil, err
	}

	// ── 7. Persist the OPEN row ──────────────────────────────────────────────
	now := time.Now().UTC()
	open := &domain.Position{
		ID:             uuid.New(),
		Type:           domain.PositionOpen,
		WalletAddress:  req.WalletAddress,
		MarketID:       market.ID,
		SelectedTeam:   req.SelectedTeam,
		Amount:         req.Amount,
		MultiplierBps:  req.MultiplierBps,
		EntryOddsBps:   entryOdds,
		OddsHomeBps:    market.OddsHomeBps,
		OddsAwayBps:    market.OddsAwayBps,
		PayoutExpected: payout,
		Status:         domain.StatusPlaced,
		TxSignature:    req.TxSignature,
		PlacedAt:       now,
		CreatedAt:      now,
	}
	if err = s.positionRepo.Insert(ctx, tx, open); err != nil {
		// A racing request with the same signature committed between our read
		// and this insert. Surface the winner's row instead of an error.
		if req.TxSignature != nil && isSignatureConflict(err) {
			_ = tx.Rollback()
			return s.lookupDuplicateOpen(ctx, *req.TxSignature)
		}
		return nil, err
	}

	// ── 8. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger_service.PlaceOpen: commit: %w", err)
	}

	metrics.PositionsOpened.Inc()
	s.log.Info("position opened",
		"position_id", open.ID,
		"market", req.MarketAddress,
		"wallet", req.WalletAddress,
		"amount", req.Amount,
		"payout_expected", payout)

	go s.postWriteAsync(market.MarketAddress, open.ID, true)

	return &domain.PlaceOpenResult{PositionID: open.ID, PayoutExpected: payout}, nil
}

// lookupDuplicateOpen resolves the surviving row after a signature insert race.
func (s *LedgerService) lookupDuplicateOpen(ctx context.Context, signature string) (*domain.PlaceOpenResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.lookupDuplicateOpen: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prior, err := s.positionRepo.GetBySignature(ctx, tx, signature)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.lookupDuplicateOpen: %w", err)
	}
	metrics.DuplicateSignatures.Inc()
	return &domain.PlaceOpenResult{
		PositionID:     prior.ID,
		PayoutExpected: prior.PayoutExpected,
		Duplicate:      true,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceClose
// ──────────────────────────────────────────────────────────────────────────────

// PlaceClose exits an OPEN position before resolution. The OPEN row flips to
// closed_early, an immutable CLOSE row records the exit, and the market's
// exposure releases the stake. At most one close per OPEN row can ever
// succeed; the losing side of a race gets ErrOpenNotFound.
func (s *LedgerService) PlaceClose(ctx context.Context, req domain.PlaceCloseRequest) (*domain.PlaceCloseResult, error) {
	// Plain read first to learn the market, so every writer locks the market
	// row before any position row. Lock order is market then position.
	peek, err := s.positionRepo.GetByID(ctx, req.PositionID)
	if err != nil {
		return nil, err
	}
	if peek.Type != domain.PositionOpen {
		return nil, domain.ErrOpenNotFound
	}
	if peek.WalletAddress != req.WalletAddress {
		return nil, domain.ErrWalletMismatch
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.PlaceClose: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Idempotency guard ─────────────────────────────────────────────────
	if req.TxSignature != nil {
		prior, lookErr := s.positionRepo.GetBySignature(ctx, tx, *req.TxSignature)
		if lookErr == nil {
			_ = tx.Rollback()
			metrics.DuplicateSignatures.Inc()
			var pnl int64
			if prior.Pnl != nil {
				pnl = *prior.Pnl
			}
			return &domain.PlaceCloseResult{CloseID: prior.ID, Pnl: pnl, Duplicate: true}, nil
		}
		if !errors.Is(lookErr, sql.ErrNoRows) {
			err = lookErr
			return nil, err
		}
	}

	// ── 2. Lock market, then the OPEN row ────────────────────────────────────
	market, err := s.marketRepo.GetForUpdateByID(ctx, tx, peek.MarketID)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.PlaceClose: get market: %w", err)
	}
	open, err := s.positionRepo.GetOpenForUpdate(ctx, tx, req.PositionID)
	if err != nil {
		// A replayed close can lose a race to the original: its pre-lock
		// signature check ran before the winner committed, and by the time the
		// market lock is acquired the OPEN row is no longer placed. Re-check
		// the signature so the loser returns the winner's row, not an error.
		if errors.Is(err, domain.ErrOpenNotFound) && req.TxSignature != nil {
			_ = tx.Rollback()
			if dup, dupErr := s.lookupDuplicateClose(ctx, *req.TxSignature); dupErr == nil {
				return dup, nil
			}
		}
		return nil, err
	}
	if open.WalletAddress != req.WalletAddress {
		err = domain.ErrWalletMismatch
		return nil, err
	}

	// ── 3. Determine the exit price ──────────────────────────────────────────
	exitBps := int64(0)
	if req.ClosePriceBps != nil {
		exitBps = *req.ClosePriceBps
	} else {
		exitBps = market.OddsFor(open.SelectedTeam)
	}
	if exitBps <= 0 {
		err = domain.ErrMissingOdds
		return nil, err
	}

	// ── 4. Fee and PnL ───────────────────────────────────────────────────────
	fee := settlement.ComputeCloseFee(open.Amount, s.cfg.Ledger.CloseFeeBps)
	pnl := settlement.ComputeClosePnl(open.Amount, open.EntryOddsBps, exitBps, open.MultiplierBps, fee)

	// ── 5. Flip OPEN row and append the CLOSE row ────────────────────────────
	if err = s.positionRepo.MarkClosed(ctx, tx, open.ID, domain.StatusClosedEarly, exitBps, pnl, fee); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	refID := open.ID
	closeRow := &domain.Position{
		ID:             uuid.New(),
		Type:           domain.PositionClose,
		WalletAddress:  open.WalletAddress,
		MarketID:       open.MarketID,
		RefPositionID:  &refID,
		SelectedTeam:   open.SelectedTeam,
		Amount:         open.Amount,
		MultiplierBps:  open.MultiplierBps,
		EntryOddsBps:   open.EntryOddsBps,
		OddsHomeBps:    market.OddsHomeBps,
		OddsAwayBps:    market.OddsAwayBps,
		PayoutExpected: open.PayoutExpected,
		Status:         domain.StatusClosedEarly,
		TxSignature:    req.TxSignature,
		ClosePriceBps:  &exitBps,
		Pnl:            &pnl,
		FeePaid:        fee,
		PlacedAt:       open.PlacedAt,
		ClosedAt:       &now,
		CreatedAt:      now,
	}
	if err = s.positionRepo.Insert(ctx, tx, closeRow); err != nil {
		if req.TxSignature != nil && isSignatureConflict(err) {
			_ = tx.Rollback()
			return s.lookupDuplicateClose(ctx, *req.TxSignature)
		}
		return nil, err
	}

	// ── 6. Release exposure ──────────────────────────────────────────────────
	if err = s.marketRepo.AdjustExposure(ctx, tx, market.ID, -open.Amount); err != nil {
		return nil, err
	}

	// ── 7. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger_service.PlaceClose: commit: %w", err)
	}

	metrics.PositionsClosed.Inc()
	s.log.Info("position closed early",
		"position_id", open.ID,
		"close_id", closeRow.ID,
		"market", market.MarketAddress,
		"pnl", pnl,
		"fee", fee)

	go s.postWriteAsync(market.MarketAddress, closeRow.ID, false)

	return &domain.PlaceCloseResult{CloseID: closeRow.ID, Pnl: pnl}, nil
}

// lookupDuplicateClose resolves the surviving row after a signature insert race.
func (s *LedgerService) lookupDuplicateClose(ctx context.Context, signature string) (*domain.PlaceCloseResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.lookupDuplicateClose: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prior, err := s.positionRepo.GetBySignature(ctx, tx, signature)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.lookupDuplicateClose: %w", err)
	}
	metrics.DuplicateSignatures.Inc()
	var pnl int64
	if prior.Pnl != nil {
		pnl = *prior.Pnl
	}
	return &domain.PlaceCloseResult{CloseID: prior.ID, Pnl: pnl, Duplicate: true}, nil
}

// postWriteAsync invalidates the market cache and pushes a WS update after a
// committed ledger write. Runs in a goroutine; errors are swallowed here and
// surfaced through the cache's own logging.
func (s *LedgerService) postWriteAsync(marketAddress string, positionID uuid.UUID, opened bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, marketAddress)
	}
	if s.broadcaster != nil {
		if opened {
			s.broadcaster.BroadcastPositionOpened(marketAddress, positionID)
		}
		market, err := s.marketRepo.GetByAddress(ctx, marketAddress)
		if err == nil {
			summary := market.ToSummary()
			s.broadcaster.BroadcastMarketUpdate(&summary)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries and claims
// ──────────────────────────────────────────────────────────────────────────────

// QueryPositions returns a filtered ledger page for a wallet, newest first.
func (s *LedgerService) QueryPositions(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	positions, total, err := s.positionRepo.Query(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger_service.QueryPositions: %w", err)
	}
	return positions, total, nil
}

// GetPosition returns a single ledger row only if it belongs to wallet.
func (s *LedgerService) GetPosition(ctx context.Context, id uuid.UUID, wallet string) (*domain.Position, error) {
	p, err := s.positionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.WalletAddress != wallet {
		return nil, domain.ErrWalletMismatch
	}
	return p, nil
}

// CloseByWallet closes the oldest placed position a wallet holds on a
// market. Chain close events carry wallet and market, not a ledger id.
func (s *LedgerService) CloseByWallet(ctx context.Context, wallet, marketAddress string, closePriceBps *int64, signature *string) (*domain.PlaceCloseResult, error) {
	market, err := s.marketRepo.GetByAddress(ctx, marketAddress)
	if err != nil {
		return nil, err
	}
	open, err := s.positionRepo.GetPlacedByWalletMarket(ctx, wallet, market.ID)
	if err != nil {
		return nil, err
	}
	return s.PlaceClose(ctx, domain.PlaceCloseRequest{
		PositionID:    open.ID,
		WalletAddress: wallet,
		ClosePriceBps: closePriceBps,
		TxSignature:   signature,
	})
}

// RecordClaim stamps the claim time onto a wallet's settled positions for a
// market. Claims are informational; settlement amounts were fixed at
// resolution or close time.
func (s *LedgerService) RecordClaim(ctx context.Context, wallet, marketAddress string, at time.Time) error {
	market, err := s.marketRepo.GetByAddress(ctx, marketAddress)
	if err != nil {
		return err
	}
	if err := s.positionRepo.MarkClaimed(ctx, wallet, market.ID, at); err != nil {
		return fmt.Errorf("ledger_service.RecordClaim: %w", err)
	}
	return nil
}

// isSignatureConflict reports whether err is the unique violation on the
// ledger's transaction_signature column.
func isSignatureConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unique constraint") &&
		strings.Contains(msg, "positions_transaction_signature_key")
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/metrics"
	"github.com/kmarket/settlement/internal/repository"
	"github.com/kmarket/settlement/internal/settlement"
)

// ResolutionService handles market settlement: flips every placed position to
// its terminal outcome, zeroes the market's exposure, and stamps the result.
// The whole sweep is one transaction; a failure rolls everything back and the
// market stays resolvable.
type ResolutionService struct {
	db           *sqlx.DB
	marketRepo   *repository.MarketRepository
	positionRepo *repository.PositionRepository
	log          *slog.Logger
	broadcaster  Broadcaster // injected after WS Hub is built
	invalidator  Invalidator // injected after cache is built
}

// NewResolutionService builds a ResolutionService.
func NewResolutionService(
	db *sqlx.DB,
	marketRepo *repository.MarketRepository,
	positionRepo *repository.PositionRepository,
	log *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		db:           db,
		marketRepo:   marketRepo,
		positionRepo: positionRepo,
		log:          log.With("component", "resolution"),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *ResolutionService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetInvalidator injects the market cache dependency post-construction.
func (s *ResolutionService) SetInvalidator(i Invalidator) { s.invalidator = i }

// ──────────────────────────────────────────────────────────────────────────────
// ResolveMarket
// ──────────────────────────────────────────────────────────────────────────────

// ResolveMarket settles a market with the given winning side. Every placed
// OPEN row becomes settled_win or settled_lose, each with a CLOSE record, and
// the market transitions to resolved with exposure released. Resolving an
// already-resolved market returns ErrMarketAlreadyResolved; any mid-sweep
// failure rolls the whole resolution back wrapped in ErrResolutionFailed.
func (s *ResolutionService) ResolveMarket(ctx context.Context, marketAddress string, winner domain.Side) error {
	if !winner.IsValid() {
		return domain.ErrInvalidSide
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolution_service.ResolveMarket: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── Step 1: Lock the market and verify the transition ────────────────────
	market, err := s.marketRepo.GetForUpdate(ctx, tx, marketAddress)
	if err != nil {
		return err
	}
	if !market.CanResolve() {
		err = domain.ErrMarketAlreadyResolved
		return err
	}

	// ── Step 2: Sweep every placed position ──────────────────────────────────
	settled, err := s.sweepPositions(ctx, tx, market, func(p *domain.Position) (domain.PositionStatus, int64) {
		return settlement.SettleOutcome(p.SelectedTeam, winner, p.Amount, p.PayoutExpected)
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrResolutionFailed, err)
		return err
	}

	// ── Step 3: Release exposure and stamp the result ────────────────────────
	if err = s.marketRepo.Resolve(ctx, tx, market.ID, winner); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("resolution_service.ResolveMarket: commit: %w", err)
	}

	metrics.MarketsResolved.Inc()
	s.log.Info("market resolved",
		"market", marketAddress,
		"winner", int16(winner),
		"positions_settled", settled)

	go s.postResolveAsync(marketAddress, &winner)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// CancelMarket
// ──────────────────────────────────────────────────────────────────────────────

// CancelMarket voids a market. Every placed position flips to refunded with
// zero PnL and the market transitions to canceled.
func (s *ResolutionService) CancelMarket(ctx context.Context, marketAddress string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolution_service.CancelMarket: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	market, err := s.marketRepo.GetForUpdate(ctx, tx, marketAddress)
	if err != nil {
		return err
	}
	if !market.CanResolve() {
		err = domain.ErrMarketAlreadyResolved
		return err
	}

	refunded, err := s.sweepPositions(ctx, tx, market, func(p *domain.Position) (domain.PositionStatus, int64) {
		return domain.StatusRefunded, 0
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrResolutionFailed, err)
		return err
	}

	if err = s.marketRepo.Cancel(ctx, tx, market.ID); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("resolution_service.CancelMarket: commit: %w", err)
	}

	s.log.Info("market canceled", "market", marketAddress, "positions_refunded", refunded)
	go s.postResolveAsync(marketAddress, nil)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Shared sweep
// ──────────────────────────────────────────────────────────────────────────────

// sweepPositions flips every placed OPEN row on the locked market using the
// outcome function, appends the matching CLOSE records, and releases each
// row's exposure. Runs entirely inside the caller's transaction.
func (s *ResolutionService) sweepPositions(
	ctx context.Context,
	tx *sqlx.Tx,
	market *domain.Market,
	outcome func(*domain.Position) (domain.PositionStatus, int64),
) (int, error) {
	positions, err := s.positionRepo.ListPlacedForUpdate(ctx, tx, market.ID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, p := range positions {
		status, pnl := outcome(p)
		exitBps := market.OddsFor(p.SelectedTeam)

		if err := s.positionRepo.MarkClosed(ctx, tx, p.ID, status, exitBps, pnl, 0); err != nil {
			return 0, fmt.Errorf("settle position %s: %w", p.ID, err)
		}

		refID := p.ID
		pnlCopy := pnl
		exitCopy := exitBps
		closeRow := &domain.Position{
			ID:             uuid.New(),
			Type:           domain.PositionClose,
			WalletAddress:  p.WalletAddress,
			MarketID:       p.MarketID,
			RefPositionID:  &refID,
			SelectedTeam:   p.SelectedTeam,
			Amount:         p.Amount,
			MultiplierBps:  p.MultiplierBps,
			EntryOddsBps:   p.EntryOddsBps,
			OddsHomeBps:    market.OddsHomeBps,
			OddsAwayBps:    market.OddsAwayBps,
			PayoutExpected: p.PayoutExpected,
			Status:         status,
			ClosePriceBps:  &exitCopy,
			Pnl:            &pnlCopy,
			PlacedAt:       p.PlacedAt,
			ClosedAt:       &now,
			CreatedAt:      now,
		}
		if err := s.positionRepo.Insert(ctx, tx, closeRow); err != nil {
			return 0, fmt.Errorf("record close for position %s: %w", p.ID, err)
		}

		if err := s.marketRepo.AdjustExposure(ctx, tx, market.ID, -p.Amount); err != nil {
			return 0, fmt.Errorf("release exposure for position %s: %w", p.ID, err)
		}
	}
	return len(positions), nil
}

// postResolveAsync invalidates the cache and broadcasts the final market
// state after a committed resolution or cancellation. winner is nil for
// cancellations.
func (s *ResolutionService) postResolveAsync(marketAddress string, winner *domain.Side) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, marketAddress)
	}
	if s.broadcaster != nil {
		if winner != nil {
			s.broadcaster.BroadcastMarketResolved(marketAddress, *winner)
		}
		market, err := s.marketRepo.GetByAddress(ctx, marketAddress)
		if err == nil {
			summary := market.ToSummary()
			s.broadcaster.BroadcastMarketUpdate(&summary)
		}
	}
}

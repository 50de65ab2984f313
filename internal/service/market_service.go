package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kmarket/settlement/internal/cache"
	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/repository"
)

// MarketService handles market lifecycle outside of settlement: creation,
// querying, odds updates, and closing the betting window. Resolution and
// cancellation live in ResolutionService because they sweep the ledger.
type MarketService struct {
	marketRepo  *repository.MarketRepository
	marketCache *cache.MarketCache // nil when Redis is disabled
}

// NewMarketService creates a MarketService. marketCache may be nil.
func NewMarketService(marketRepo *repository.MarketRepository, marketCache *cache.MarketCache) *MarketService {
	return &MarketService{marketRepo: marketRepo, marketCache: marketCache}
}

// ──────────────────────────────────────────────────────────────────────────────
// CreateMarket
// ──────────────────────────────────────────────────────────────────────────────

// CreateMarket opens a new two-outcome market in state=open with zero
// exposure. Only callable from the back-office admin layer.
func (s *MarketService) CreateMarket(ctx context.Context, req domain.CreateMarketRequest) (*domain.Market, error) {
	if req.MarketAddress == "" || req.HomeCode == "" || req.AwayCode == "" {
		return nil, fmt.Errorf("market_service.CreateMarket: address and team codes are required: %w", domain.ErrInvalidTransition)
	}
	if req.OddsHomeBps <= 0 || req.OddsAwayBps <= 0 {
		return nil, domain.ErrMissingOdds
	}
	if !req.CloseTime.After(req.StartTime) {
		return nil, fmt.Errorf("market_service.CreateMarket: close_time must be after start_time: %w", domain.ErrInvalidTransition)
	}
	if req.MaxExposure <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	m := &domain.Market{
		ID:              uuid.New(),
		MarketAddress:   req.MarketAddress,
		HomeCode:        req.HomeCode,
		AwayCode:        req.AwayCode,
		OddsHomeBps:     req.OddsHomeBps,
		OddsAwayBps:     req.OddsAwayBps,
		StartTime:       req.StartTime.UTC(),
		CloseTime:       req.CloseTime.UTC(),
		State:           domain.StateOpen,
		Result:          domain.SideNone,
		MaxExposure:     req.MaxExposure,
		CurrentExposure: 0,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.marketRepo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: db: %w", err)
	}
	return m, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// GetMarket fetches a market by its address, consulting the Redis snapshot
// cache first when one is configured.
func (s *MarketService) GetMarket(ctx context.Context, address string) (*domain.Market, error) {
	if s.marketCache != nil {
		return s.marketCache.GetByAddress(ctx, address)
	}
	return s.marketRepo.GetByAddress(ctx, address)
}

// GetMarketByID fetches a market by primary key, bypassing the cache.
func (s *MarketService) GetMarketByID(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	return s.marketRepo.GetByID(ctx, id)
}

// ListMarkets returns a paginated list of markets.
// state="" returns all states. Returns (markets, total, error).
func (s *MarketService) ListMarkets(ctx context.Context, limit, offset int, state string) ([]*domain.Market, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	markets, total, err := s.marketRepo.List(ctx, limit, offset, state)
	if err != nil {
		return nil, 0, fmt.Errorf("market_service.ListMarkets: %w", err)
	}
	return markets, total, nil
}

// ListExpiredOpen returns open markets whose betting window has elapsed.
// Surfaced on the admin dashboard as "awaiting resolution"; elapsed windows
// never resolve anything on their own.
func (s *MarketService) ListExpiredOpen(ctx context.Context) ([]*domain.Market, error) {
	markets, err := s.marketRepo.GetExpiredOpen(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("market_service.ListExpiredOpen: %w", err)
	}
	return markets, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Admin operations
// ──────────────────────────────────────────────────────────────────────────────

// UpdateOdds refreshes the odds snapshot on an open market. expectedVersion
// must match the market's current version or ErrVersionConflict is returned.
func (s *MarketService) UpdateOdds(ctx context.Context, id uuid.UUID, homeBps, awayBps, expectedVersion int64) error {
	if homeBps <= 0 || awayBps <= 0 {
		return domain.ErrMissingOdds
	}
	if err := s.marketRepo.UpdateOdds(ctx, id, homeBps, awayBps, expectedVersion); err != nil {
		return fmt.Errorf("market_service.UpdateOdds: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

// DeactivateMarket closes the betting window early. Existing positions stay
// placed and await resolution.
func (s *MarketService) DeactivateMarket(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	if err := s.marketRepo.Deactivate(ctx, id, expectedVersion); err != nil {
		return fmt.Errorf("market_service.DeactivateMarket: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *MarketService) invalidate(ctx context.Context, id uuid.UUID) {
	if s.marketCache == nil {
		return
	}
	m, err := s.marketRepo.GetByID(ctx, id)
	if err != nil {
		return
	}
	s.marketCache.Invalidate(ctx, m.MarketAddress)
}

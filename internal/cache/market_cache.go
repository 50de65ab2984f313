// Package cache wraps the market repository with a Redis read-through
// snapshot cache. Writes invalidate; reads check Redis first and fall back
// to PostgreSQL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/repository"
	"github.com/redis/go-redis/v9"
)

// MarketCache serves market snapshots keyed by market address. Position rows
// are never cached; the ledger is always read from PostgreSQL.
type MarketCache struct {
	primary *repository.MarketRepository
	rdb     *redis.Client
	ttl     time.Duration
	log     *slog.Logger
}

// NewMarketCache creates a cached wrapper around the market repository.
func NewMarketCache(primary *repository.MarketRepository, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *MarketCache {
	return &MarketCache{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With("component", "market_cache"),
	}
}

// GetByAddress returns the market snapshot, consulting Redis first.
func (c *MarketCache) GetByAddress(ctx context.Context, address string) (*domain.Market, error) {
	data, err := c.rdb.Get(ctx, marketKey(address)).Bytes()
	if err == nil {
		var m domain.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	} else if err != redis.Nil {
		// Redis being down degrades to direct DB reads.
		c.log.Warn("cache read failed", "error", err)
	}

	m, err := c.primary.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(m); err == nil {
		c.rdb.Set(ctx, marketKey(address), data, c.ttl)
	}
	return m, nil
}

// Invalidate drops the cached snapshot after a ledger or lifecycle write.
func (c *MarketCache) Invalidate(ctx context.Context, address string) {
	if err := c.rdb.Del(ctx, marketKey(address)).Err(); err != nil {
		c.log.Warn("cache invalidation failed", "market", address, "error", err)
	}
}

func marketKey(address string) string { return fmt.Sprintf("market:%s", address) }

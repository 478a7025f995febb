// Package ristretto provides an in-process ResolvedMessagesCache for
// single-instance deployments that want the read-path speedup without an
// external Redis.
package ristretto

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/chirino/chat-service/internal/security"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

const (
	defaultMaxCost     = 64 * 1024 * 1024
	defaultNumCounters = 100_000
	defaultTTL         = 10 * time.Minute
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "ristretto",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ResolvedMessagesCache, error) {
	maxCost := int64(defaultMaxCost)
	numCounters := int64(defaultNumCounters)
	ttl := defaultTTL
	if cfg := config.FromContext(ctx); cfg != nil {
		if cfg.RistrettoMaxCost > 0 {
			maxCost = cfg.RistrettoMaxCost
		}
		if cfg.RistrettoNumCounters > 0 {
			numCounters = cfg.RistrettoNumCounters
		}
		if cfg.CacheTTL > 0 {
			ttl = cfg.CacheTTL
		}
	}
	inner, err := ristretto.NewCache(&ristretto.Config[string, registrycache.ResolvedMessages]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ristrettoResolvedCache{cache: inner, ttl: ttl}, nil
}

type ristrettoResolvedCache struct {
	cache *ristretto.Cache[string, registrycache.ResolvedMessages]
	ttl   time.Duration
}

func (c *ristrettoResolvedCache) Available() bool { return true }

func (c *ristrettoResolvedCache) Get(_ context.Context, chatID uuid.UUID) (*registrycache.ResolvedMessages, error) {
	cached, ok := c.cache.Get(chatID.String())
	if !ok {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		return nil, nil
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
	return &cached, nil
}

func (c *ristrettoResolvedCache) Set(_ context.Context, chatID uuid.UUID, resolved registrycache.ResolvedMessages, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	cost := int64(0)
	for i := range resolved.Messages {
		cost += int64(len(resolved.Messages[i].Content)) + 64
	}
	if cost == 0 {
		cost = 1
	}
	c.cache.SetWithTTL(chatID.String(), resolved, cost, ttl)
	return nil
}

func (c *ristrettoResolvedCache) Remove(_ context.Context, chatID uuid.UUID) error {
	c.cache.Del(chatID.String())
	return nil
}

var _ registrycache.ResolvedMessagesCache = (*ristrettoResolvedCache)(nil)

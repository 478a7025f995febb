package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ResolvedMessagesCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_SERVICE_REDIS_URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURL creates a ResolvedMessagesCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.ResolvedMessagesCache, error) {
	return LoadFromURLWithTTL(ctx, redisURL, defaultTTL)
}

// LoadFromURLWithTTL creates a cache with an explicit entry TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.ResolvedMessagesCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisResolvedCache{client: client, ttl: ttl}, nil
}

type redisResolvedCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func chatKey(chatID uuid.UUID) string {
	return fmt.Sprintf("chat-messages:%s", chatID.String())
}

func (c *redisResolvedCache) Available() bool {
	return true
}

func (c *redisResolvedCache) Get(ctx context.Context, chatID uuid.UUID) (*registrycache.ResolvedMessages, error) {
	data, err := c.client.Get(ctx, chatKey(chatID)).Bytes()
	if err == goredis.Nil {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached registrycache.ResolvedMessages
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
	return &cached, nil
}

func (c *redisResolvedCache) Set(ctx context.Context, chatID uuid.UUID, resolved registrycache.ResolvedMessages, ttl time.Duration) error {
	data, err := json.Marshal(resolved)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, chatKey(chatID), data, ttl).Err()
}

func (c *redisResolvedCache) Remove(ctx context.Context, chatID uuid.UUID) error {
	return c.client.Del(ctx, chatKey(chatID)).Err()
}

var _ registrycache.ResolvedMessagesCache = (*redisResolvedCache)(nil)

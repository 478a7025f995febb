package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

type resolvedCacheKey struct{}

// WithResolvedCacheContext returns a new context carrying the given ResolvedMessagesCache.
func WithResolvedCacheContext(ctx context.Context, c ResolvedMessagesCache) context.Context {
	return context.WithValue(ctx, resolvedCacheKey{}, c)
}

// ResolvedCacheFromContext retrieves the ResolvedMessagesCache from the context.
// Returns nil if none was set.
func ResolvedCacheFromContext(ctx context.Context) ResolvedMessagesCache {
	c, _ := ctx.Value(resolvedCacheKey{}).(ResolvedMessagesCache)
	return c
}

// ResolvedMessages holds the resolver output for a chat: the time-ordered
// message sequence currently in view.
type ResolvedMessages struct {
	Messages []model.Message `json:"messages"`
}

// ResolvedMessagesCache caches resolver output per chat. The persisted
// activeMessages field stays authoritative; the cache only skips re-reads on
// the hot read path, and every mutating engine operation removes the chat's
// entry before returning.
type ResolvedMessagesCache interface {
	Available() bool
	Get(ctx context.Context, chatID uuid.UUID) (*ResolvedMessages, error)
	Set(ctx context.Context, chatID uuid.UUID, resolved ResolvedMessages, ttl time.Duration) error
	Remove(ctx context.Context, chatID uuid.UUID) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (ResolvedMessagesCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}

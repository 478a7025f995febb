package noop

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/registry/cache"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ResolvedMessagesCache, error) {
			return &noopResolvedCache{}, nil
		},
	})
}

type noopResolvedCache struct{}

func (n *noopResolvedCache) Available() bool { return false }
func (n *noopResolvedCache) Get(_ context.Context, _ uuid.UUID) (*cache.ResolvedMessages, error) {
	return nil, nil
}
func (n *noopResolvedCache) Set(_ context.Context, _ uuid.UUID, _ cache.ResolvedMessages, _ time.Duration) error {
	return nil
}
func (n *noopResolvedCache) Remove(_ context.Context, _ uuid.UUID) error { return nil }

var _ cache.ResolvedMessagesCache = (*noopResolvedCache)(nil)

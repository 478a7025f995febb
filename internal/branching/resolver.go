package branching

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

const resolvedCacheTTL = 10 * time.Minute

// GetChatMessages returns the ordered message sequence the user currently
// sees: the chat's base messages plus the active branch's messages, stable
// sorted by timestamp. Dangling references are dropped rather than surfaced
// as errors, and a chat with no active branch yields an empty sequence.
func (s *Service) GetChatMessages(ctx context.Context, userID string, chatID uuid.UUID) ([]model.Message, error) {
	chat, err := s.store.Chats().Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireRead(chat, userID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, chatID); err == nil && cached != nil {
			return cached.Messages, nil
		}
	}

	msgs, err := s.resolveSequence(ctx, chat)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, chatID, registrycache.ResolvedMessages{Messages: msgs}, resolvedCacheTTL)
	}
	return msgs, nil
}

// resolveSequence computes the in-view sequence for a chat without touching
// the cache. Reads prefer empty results over errors when the chat has not yet
// been initialized or its active branch is gone.
func (s *Service) resolveSequence(ctx context.Context, chat *model.Chat) ([]model.Message, error) {
	if chat.ActiveBranchID == nil {
		return nil, nil
	}
	branch, err := s.store.Branches().Get(ctx, *chat.ActiveBranchID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}

	ids := dedupeIDs(chat.BaseMessages, branch.Messages)
	msgs, err := s.store.Messages().GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	// Base messages precede branch messages positionally; the stable sort
	// preserves that order for equal timestamps.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// UpdateActiveMessages recomputes and persists the chat's denormalized
// activeMessages cache from its base messages and active branch. It is
// idempotent and safe to call defensively; every mutating operation invokes
// it as its last step.
func (s *Service) UpdateActiveMessages(ctx context.Context, chatID uuid.UUID) error {
	chat, err := s.store.Chats().Get(ctx, chatID)
	if err != nil {
		return err
	}

	active := append([]uuid.UUID{}, chat.BaseMessages...)
	if chat.ActiveBranchID != nil {
		branch, err := s.store.Branches().Get(ctx, *chat.ActiveBranchID)
		if err == nil {
			active = dedupeIDs(chat.BaseMessages, branch.Messages)
		} else {
			var nf *registrystore.NotFoundError
			if !errors.As(err, &nf) {
				return err
			}
		}
	}

	if err := s.store.Chats().Patch(ctx, chatID, registrystore.ChatPatch{ActiveMessages: &active}); err != nil {
		return err
	}
	s.invalidate(ctx, chatID)
	return nil
}

// dedupeIDs concatenates base and branch ids, keeping the first occurrence of
// each id. The main-branch fallback after deletions can leave the two lists
// overlapping.
func dedupeIDs(base, branch []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(base)+len(branch))
	seen := make(map[uuid.UUID]struct{}, len(base)+len(branch))
	for _, list := range [][]uuid.UUID{base, branch} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// divergenceIndex locates the position of a divergence point in the resolved
// sequence. The message itself may not be on the active path (its sibling
// variant is); any sibling head at the same position counts.
func (s *Service) divergenceIndex(ctx context.Context, resolved []model.Message, msg *model.Message) int {
	for i := range resolved {
		if resolved[i].ID == msg.ID {
			return i
		}
	}
	if !msg.HasVariants() {
		return -1
	}
	heads := make(map[uuid.UUID]struct{}, len(msg.Branches))
	for _, branchID := range msg.Branches {
		branch, err := s.store.Branches().Get(ctx, branchID)
		if err != nil || len(branch.Messages) == 0 {
			continue
		}
		heads[branch.Messages[0]] = struct{}{}
	}
	for i := range resolved {
		if _, ok := heads[resolved[i].ID]; ok {
			return i
		}
	}
	return -1
}

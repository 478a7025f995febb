// Package branching implements the conversation branching and versioning
// engine: editing any past message forks the conversation into sibling
// branches while a single active path stays addressable for display and
// generation. It is built entirely on the generic document store; each store
// call is individually atomic and the chat's activeBranchId is always the last
// write of a mutating operation, so an interrupted operation leaves the old,
// still-consistent state visible.
package branching

import (
	"context"
	"errors"

	"github.com/chirino/chat-service/internal/model"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// Service is the branching engine. All public operations validate their
// preconditions before issuing any write.
type Service struct {
	store registrystore.DocumentStore
	cache registrycache.ResolvedMessagesCache
}

// NewService creates the engine over the given document store. cache may be
// nil; when set, resolver output is cached per chat and invalidated by every
// mutating operation.
func NewService(store registrystore.DocumentStore, cache registrycache.ResolvedMessagesCache) *Service {
	return &Service{store: store, cache: cache}
}

// EditResult is returned by CreateBranchFromMessageEdit.
type EditResult struct {
	NewBranchID   uuid.UUID `json:"newBranchId"`
	BranchNumber  int       `json:"branchNumber"`
	TotalBranches int       `json:"totalBranches"`
}

// NavigateResult is returned by NavigateToBranch.
type NavigateResult struct {
	SwitchedToBranch uuid.UUID `json:"switchedToBranch"`
	BranchName       string    `json:"branchName"`
}

// DeletionResult is returned by HandleMessageDeletion.
type DeletionResult struct {
	DeletedBranches int `json:"deletedBranches"`
}

// BranchVariant describes one sibling branch at a divergence point.
type BranchVariant struct {
	BranchID uuid.UUID `json:"branchId"`
	Name     string    `json:"name"`
	Position int       `json:"position"`
	Active   bool      `json:"active"`
}

// BranchList enumerates all variants at a divergence point. Label is the
// "current/total" navigation label derived from the active branch's position
// in the message's branches array.
type BranchList struct {
	Branches       []BranchVariant `json:"branches"`
	ActiveBranchID uuid.UUID       `json:"activeBranchId"`
	Label          string          `json:"label"`
}

func requireRead(chat *model.Chat, userID string) error {
	if chat.OwnerUserID == userID || chat.Visibility.AllowsRead() {
		return nil
	}
	return &registrystore.ForbiddenError{}
}

func requireWrite(chat *model.Chat, userID string) error {
	if chat.OwnerUserID == userID || chat.Visibility.AllowsWrite() {
		return nil
	}
	return &registrystore.ForbiddenError{}
}

// chatForMessage loads a message together with its chat and owning branch. The
// branch may be nil when it has already been deleted out from under the
// message; the chat itself must exist.
func (s *Service) chatForMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, *model.Branch, *model.Chat, error) {
	msg, err := s.store.Messages().Get(ctx, messageID)
	if err != nil {
		return nil, nil, nil, err
	}
	chat, err := s.store.Chats().Get(ctx, msg.ChatID)
	if err != nil {
		return nil, nil, nil, err
	}
	branch, err := s.store.Branches().Get(ctx, msg.BranchID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if !errors.As(err, &nf) {
			return nil, nil, nil, err
		}
		branch = nil
	}
	return msg, branch, chat, nil
}

func (s *Service) invalidate(ctx context.Context, chatID uuid.UUID) {
	if s.cache != nil {
		_ = s.cache.Remove(ctx, chatID)
	}
}

func messageIDs(msgs []model.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	return ids
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

package branching

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// HandleMessageDeletion removes a message and every branch that hangs off it.
// When the chat's active branch is among the deleted ones, the chat falls back
// to its main branch with an emptied base list; a missing main branch is
// re-created rather than reported.
func (s *Service) HandleMessageDeletion(ctx context.Context, userID string, messageID uuid.UUID) (*DeletionResult, error) {
	msg, owner, chat, err := s.chatForMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(chat, userID); err != nil {
		return nil, err
	}

	deleted := 0
	activeDeleted := false
	for _, branchID := range msg.Branches {
		if err := s.deleteBranchDeep(ctx, branchID, messageID); err != nil {
			return nil, err
		}
		deleted++
		if chat.ActiveBranchID != nil && *chat.ActiveBranchID == branchID {
			activeDeleted = true
		}
		if owner != nil && branchID == owner.ID {
			owner = nil
		}
	}

	// Detach the message from whatever still references it.
	if owner != nil {
		remaining := removeID(owner.Messages, messageID)
		if err := s.store.Branches().Patch(ctx, owner.ID, registrystore.BranchPatch{Messages: &remaining}); err != nil {
			return nil, err
		}
	}
	if err := s.store.Messages().Delete(ctx, messageID); err != nil {
		var nf *registrystore.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
	}

	patch := registrystore.ChatPatch{}
	if containsID(chat.BaseMessages, messageID) {
		base := removeID(chat.BaseMessages, messageID)
		patch.BaseMessages = &base
	}
	if activeDeleted {
		mainID, err := s.ensureMainBranch(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
		empty := []uuid.UUID{}
		patch.BaseMessages = &empty
		patch.ActiveBranchID = &mainID
	}
	if patch.BaseMessages != nil || patch.ActiveBranchID != nil {
		if err := s.store.Chats().Patch(ctx, chat.ID, patch); err != nil {
			return nil, err
		}
	}
	if err := s.UpdateActiveMessages(ctx, chat.ID); err != nil {
		return nil, err
	}

	log.Debug("Deleted message", "chat", chat.ID, "message", messageID, "deletedBranches", deleted)
	return &DeletionResult{DeletedBranches: deleted}, nil
}

// deleteBranchDeep deletes a branch and its messages. keep is the divergence
// point being deleted by the caller; it is skipped here so the caller's own
// delete stays the single point of removal.
func (s *Service) deleteBranchDeep(ctx context.Context, branchID uuid.UUID, keep uuid.UUID) error {
	branch, err := s.store.Branches().Get(ctx, branchID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	for _, msgID := range branch.Messages {
		if msgID == keep {
			continue
		}
		if err := s.store.Messages().Delete(ctx, msgID); err != nil {
			var nf *registrystore.NotFoundError
			if !errors.As(err, &nf) {
				return err
			}
		}
	}
	return s.store.Branches().Delete(ctx, branchID)
}

// ensureMainBranch returns the chat's main branch id, creating it when it has
// gone missing.
func (s *Service) ensureMainBranch(ctx context.Context, chatID uuid.UUID) (uuid.UUID, error) {
	main, err := s.store.Branches().FindMain(ctx, chatID)
	if err == nil && main != nil {
		return main.ID, nil
	}
	var nf *registrystore.NotFoundError
	if err != nil && !errors.As(err, &nf) {
		return uuid.Nil, err
	}
	return s.CreateMainBranch(ctx, chatID)
}

// DeleteChat removes a chat with all its branches and messages. Only the owner
// may delete a chat regardless of its visibility.
func (s *Service) DeleteChat(ctx context.Context, userID string, chatID uuid.UUID) error {
	chat, err := s.store.Chats().Get(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.OwnerUserID != userID {
		return &registrystore.ForbiddenError{}
	}

	if err := s.store.Messages().DeleteByChat(ctx, chatID); err != nil {
		return err
	}
	branches, err := s.store.Branches().ListByChat(ctx, chatID)
	if err != nil {
		return err
	}
	for i := range branches {
		if err := s.store.Branches().Delete(ctx, branches[i].ID); err != nil {
			return err
		}
	}
	if err := s.store.Chats().Delete(ctx, chatID); err != nil {
		return err
	}
	s.invalidate(ctx, chatID)
	log.Debug("Deleted chat", "chat", chatID, "branches", len(branches))
	return nil
}

// DeleteAccount removes every chat the user owns plus their preferences.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	var cursor *string
	for {
		chats, next, err := s.store.Chats().ListByOwner(ctx, userID, cursor, 100)
		if err != nil {
			return err
		}
		for i := range chats {
			if err := s.DeleteChat(ctx, userID, chats[i].ID); err != nil {
				return err
			}
		}
		if next == nil || len(chats) == 0 {
			break
		}
		cursor = next
	}
	if err := s.store.Preferences().Delete(ctx, userID); err != nil {
		var nf *registrystore.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
	}
	log.Info("Deleted account data", "user", userID)
	return nil
}

// SearchMessages runs an indexed content search across the user's own chats.
func (s *Service) SearchMessages(ctx context.Context, userID string, query string, limit int) ([]model.Message, error) {
	if query == "" {
		return nil, &registrystore.ValidationError{Field: "q", Message: "query must not be empty"}
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var chatIDs []uuid.UUID
	var cursor *string
	for {
		chats, next, err := s.store.Chats().ListByOwner(ctx, userID, cursor, 100)
		if err != nil {
			return nil, err
		}
		for i := range chats {
			chatIDs = append(chatIDs, chats[i].ID)
		}
		if next == nil || len(chats) == 0 {
			break
		}
		cursor = next
	}
	if len(chatIDs) == 0 {
		return []model.Message{}, nil
	}
	return s.store.Messages().Search(ctx, chatIDs, query, limit)
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

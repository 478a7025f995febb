package branching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// CreateChat creates a chat with its main branch and returns the chat with
// ActiveBranchID already pointing at it.
func (s *Service) CreateChat(ctx context.Context, userID string, title string, visibility model.Visibility) (*model.Chat, error) {
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}
	now := time.Now().UTC()
	chat := &model.Chat{
		OwnerUserID:    userID,
		Title:          title,
		Visibility:     visibility,
		BaseMessages:   []uuid.UUID{},
		ActiveMessages: []uuid.UUID{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	chatID, err := s.store.Chats().Insert(ctx, chat)
	if err != nil {
		return nil, err
	}
	chat.ID = chatID

	mainID, err := s.CreateMainBranch(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Chats().Patch(ctx, chatID, registrystore.ChatPatch{ActiveBranchID: &mainID}); err != nil {
		return nil, err
	}
	chat.ActiveBranchID = &mainID
	return chat, nil
}

// CreateMainBranch creates the chat's main branch. Called exactly once at chat
// creation; a second call is a conflict.
func (s *Service) CreateMainBranch(ctx context.Context, chatID uuid.UUID) (uuid.UUID, error) {
	if _, err := s.store.Chats().Get(ctx, chatID); err != nil {
		return uuid.Nil, err
	}
	if existing, err := s.store.Branches().FindMain(ctx, chatID); err == nil && existing != nil {
		return uuid.Nil, &registrystore.ConflictError{Message: "chat already has a main branch"}
	}
	branch := &model.Branch{
		ChatID:    chatID,
		Messages:  []uuid.UUID{},
		IsMain:    true,
		Name:      "Main",
		CreatedAt: time.Now().UTC(),
	}
	return s.store.Branches().Insert(ctx, branch)
}

// AppendMessage appends a conversation turn to the chat's active branch.
func (s *Service) AppendMessage(ctx context.Context, userID string, chatID uuid.UUID, role model.Role, content string, modelName string) (*model.Message, error) {
	chat, err := s.store.Chats().Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(chat, userID); err != nil {
		return nil, err
	}
	if chat.ActiveBranchID == nil {
		return nil, &registrystore.ValidationError{Field: "chatId", Message: "chat has no active branch"}
	}
	branch, err := s.store.Branches().Get(ctx, *chat.ActiveBranchID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ChatID:    chat.ID,
		BranchID:  branch.ID,
		Role:      role,
		Content:   content,
		Model:     modelName,
		CreatedAt: time.Now().UTC(),
	}
	msgID, err := s.store.Messages().Insert(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = msgID

	updated := append(append([]uuid.UUID{}, branch.Messages...), msgID)
	if err := s.store.Branches().Patch(ctx, branch.ID, registrystore.BranchPatch{Messages: &updated}); err != nil {
		return nil, err
	}
	if err := s.UpdateActiveMessages(ctx, chat.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateBranchFromMessageEdit edits a message by forking the conversation at
// its position. The first edit of a message creates two branches (the
// preserved original continuation and the edited path); each later edit adds
// one more sibling. The new base messages are computed from the resolved
// sequence before any branch is created, and the chat's activeBranchId is the
// final write.
func (s *Service) CreateBranchFromMessageEdit(ctx context.Context, userID string, messageID uuid.UUID, newContent string) (*EditResult, error) {
	if strings.TrimSpace(newContent) == "" {
		return nil, &registrystore.ValidationError{Field: "content", Message: "content must not be empty"}
	}
	msg, _, chat, err := s.chatForMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := requireWrite(chat, userID); err != nil {
		return nil, err
	}

	resolved, err := s.resolveSequence(ctx, chat)
	if err != nil {
		return nil, err
	}
	idx := s.divergenceIndex(ctx, resolved, msg)
	if idx < 0 {
		return nil, &registrystore.ValidationError{Field: "messageId", Message: "message is not on the chat's active path"}
	}
	base := messageIDs(resolved[:idx])
	now := time.Now().UTC()

	var branchSet []uuid.UUID
	var newBranchID uuid.UUID
	branchNumber := len(msg.Branches) + 2

	if !msg.HasVariants() {
		// First edit: preserve the current continuation (the message and
		// everything after it on the active path) as its own branch before
		// starting the edited one.
		continuation := messageIDs(resolved[idx:])
		original := &model.Branch{
			ChatID:        chat.ID,
			FromMessageID: &msg.ID,
			Messages:      continuation,
			Name:          "Branch 1",
			CreatedAt:     now,
		}
		originalID, err := s.store.Branches().Insert(ctx, original)
		if err != nil {
			return nil, err
		}
		newBranchID, err = s.insertEditedBranch(ctx, chat, msg, newContent, branchNumber, now)
		if err != nil {
			return nil, err
		}
		branchSet = []uuid.UUID{originalID, newBranchID}
	} else {
		newBranchID, err = s.insertEditedBranch(ctx, chat, msg, newContent, branchNumber, now)
		if err != nil {
			return nil, err
		}
		branchSet = append(append([]uuid.UUID{}, msg.Branches...), newBranchID)
	}

	// Record the full sibling set and the new active pointer on every variant
	// head, so navigation works no matter which sibling a caller addresses.
	if err := s.patchVariantHeads(ctx, branchSet, newBranchID); err != nil {
		return nil, err
	}

	// Visibility-granting write: base messages and active branch together.
	if err := s.store.Chats().Patch(ctx, chat.ID, registrystore.ChatPatch{
		BaseMessages:   &base,
		ActiveBranchID: &newBranchID,
	}); err != nil {
		return nil, err
	}
	if err := s.UpdateActiveMessages(ctx, chat.ID); err != nil {
		return nil, err
	}

	log.Debug("Forked message edit",
		"chat", chat.ID,
		"message", messageID,
		"branch", newBranchID,
		"totalBranches", len(branchSet),
	)
	return &EditResult{
		NewBranchID:   newBranchID,
		BranchNumber:  branchNumber,
		TotalBranches: len(branchSet),
	}, nil
}

// insertEditedBranch creates a branch seeded with an edited copy of msg. The
// copy keeps the source message's timestamp so its position in the resolved
// sequence is stable.
func (s *Service) insertEditedBranch(ctx context.Context, chat *model.Chat, msg *model.Message, newContent string, number int, now time.Time) (uuid.UUID, error) {
	branch := &model.Branch{
		ChatID:        chat.ID,
		FromMessageID: &msg.ID,
		Messages:      []uuid.UUID{},
		Name:          fmt.Sprintf("Branch %d", number),
		CreatedAt:     now,
	}
	branchID, err := s.store.Branches().Insert(ctx, branch)
	if err != nil {
		return uuid.Nil, err
	}
	edited := &model.Message{
		ChatID:    chat.ID,
		BranchID:  branchID,
		Role:      msg.Role,
		Content:   newContent,
		Model:     msg.Model,
		CreatedAt: msg.CreatedAt,
	}
	editedID, err := s.store.Messages().Insert(ctx, edited)
	if err != nil {
		return uuid.Nil, err
	}
	seeded := []uuid.UUID{editedID}
	if err := s.store.Branches().Patch(ctx, branchID, registrystore.BranchPatch{Messages: &seeded}); err != nil {
		return uuid.Nil, err
	}
	return branchID, nil
}

// patchVariantHeads writes the sibling set and active pointer onto the head
// message of every branch in the set.
func (s *Service) patchVariantHeads(ctx context.Context, branchSet []uuid.UUID, activeID uuid.UUID) error {
	set := append([]uuid.UUID{}, branchSet...)
	for _, branchID := range branchSet {
		branch, err := s.store.Branches().Get(ctx, branchID)
		if err != nil || len(branch.Messages) == 0 {
			continue
		}
		err = s.store.Messages().Patch(ctx, branch.Messages[0], registrystore.MessagePatch{
			Branches:       &set,
			ActiveBranchID: &activeID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ForkChat copies the resolved sequence (optionally truncated at a message,
// inclusive) into a brand-new chat owned by the caller. The fork tunnels
// through the resolver, so only the currently-viewed path is copied.
func (s *Service) ForkChat(ctx context.Context, userID string, chatID uuid.UUID, atMessageID *uuid.UUID, title string) (*model.Chat, error) {
	src, err := s.store.Chats().Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireRead(src, userID); err != nil {
		return nil, err
	}
	resolved, err := s.resolveSequence(ctx, src)
	if err != nil {
		return nil, err
	}
	if atMessageID != nil {
		cut := -1
		for i := range resolved {
			if resolved[i].ID == *atMessageID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: atMessageID.String()}
		}
		resolved = resolved[:cut+1]
	}
	if title == "" {
		title = src.Title
	}

	fork, err := s.CreateChat(ctx, userID, title, model.VisibilityPrivate)
	if err != nil {
		return nil, err
	}
	mainID := *fork.ActiveBranchID

	copied := make([]uuid.UUID, 0, len(resolved))
	for i := range resolved {
		cp := &model.Message{
			ChatID:    fork.ID,
			BranchID:  mainID,
			Role:      resolved[i].Role,
			Content:   resolved[i].Content,
			Model:     resolved[i].Model,
			CreatedAt: resolved[i].CreatedAt,
		}
		id, err := s.store.Messages().Insert(ctx, cp)
		if err != nil {
			return nil, err
		}
		copied = append(copied, id)
	}
	if err := s.store.Branches().Patch(ctx, mainID, registrystore.BranchPatch{Messages: &copied}); err != nil {
		return nil, err
	}
	if err := s.UpdateActiveMessages(ctx, fork.ID); err != nil {
		return nil, err
	}
	fork.ActiveMessages = copied
	return fork, nil
}

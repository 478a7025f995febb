package store

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// DocumentStore is the generic transactional document store the branching
// engine is built on. Each repository call is individually atomic; the store
// provides no cross-call locking or multi-document transactions, so mutating
// operations must sequence their writes so the last one makes the new state
// visible (the chat's activeBranchId patch).
type DocumentStore interface {
	Chats() ChatRepository
	Branches() BranchRepository
	Messages() MessageRepository
	Preferences() PreferenceRepository
	Close(ctx context.Context) error
}

// ChatPatch describes a partial update to a chat document. Nil fields are left
// untouched.
type ChatPatch struct {
	Title          *string
	Visibility     *model.Visibility
	ActiveBranchID *uuid.UUID
	BaseMessages   *[]uuid.UUID
	ActiveMessages *[]uuid.UUID
}

// BranchPatch describes a partial update to a branch document.
type BranchPatch struct {
	Messages    *[]uuid.UUID
	Name        *string
	Description *string
}

// MessagePatch describes a partial update to a message document.
type MessagePatch struct {
	Content        *string
	Branches       *[]uuid.UUID
	ActiveBranchID *uuid.UUID
}

// ChatRepository owns chat documents.
type ChatRepository interface {
	// Insert stores the chat, generating an ID when the zero UUID is given.
	Insert(ctx context.Context, chat *model.Chat) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Chat, error)
	Patch(ctx context.Context, id uuid.UUID, patch ChatPatch) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByOwner returns the owner's chats ordered by creation time descending.
	ListByOwner(ctx context.Context, userID string, afterCursor *string, limit int) ([]model.Chat, *string, error)
}

// BranchRepository owns branch documents and their append-only message-id lists.
type BranchRepository interface {
	Insert(ctx context.Context, branch *model.Branch) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Branch, error)
	Patch(ctx context.Context, id uuid.UUID, patch BranchPatch) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]model.Branch, error)
	// FindMain returns the chat's main branch, looked up by the isMain flag.
	FindMain(ctx context.Context, chatID uuid.UUID) (*model.Branch, error)
}

// MessageRepository owns message documents.
type MessageRepository interface {
	Insert(ctx context.Context, msg *model.Message) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
	// GetMany resolves the given ids, silently skipping any that no longer
	// exist. The result preserves input order.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Message, error)
	Patch(ctx context.Context, id uuid.UUID, patch MessagePatch) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByBranch(ctx context.Context, branchID uuid.UUID) ([]model.Message, error)
	DeleteByChat(ctx context.Context, chatID uuid.UUID) error
	// Search runs an indexed content search limited to the given chats.
	Search(ctx context.Context, chatIDs []uuid.UUID, query string, limit int) ([]model.Message, error)
}

// PreferenceRepository owns per-user preference documents.
type PreferenceRepository interface {
	Get(ctx context.Context, userID string) (*model.UserPreferences, error)
	Put(ctx context.Context, prefs *model.UserPreferences) error
	Delete(ctx context.Context, userID string) error
}

// Loader creates a DocumentStore from config.
type Loader func(ctx context.Context) (DocumentStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}

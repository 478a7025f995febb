// Package memory provides a map-backed DocumentStore used by tests and
// single-process development runs. Documents are deep-copied on the way in and
// out so callers never share slices with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.DocumentStore, error) {
			return New(), nil
		},
	})
}

// Store implements registrystore.DocumentStore in process memory.
type Store struct {
	mu       sync.RWMutex
	chats    map[uuid.UUID]*model.Chat
	branches map[uuid.UUID]*model.Branch
	messages map[uuid.UUID]*model.Message
	prefs    map[string]*model.UserPreferences
}

// New creates an empty store.
func New() *Store {
	return &Store{
		chats:    map[uuid.UUID]*model.Chat{},
		branches: map[uuid.UUID]*model.Branch{},
		messages: map[uuid.UUID]*model.Message{},
		prefs:    map[string]*model.UserPreferences{},
	}
}

func (s *Store) Chats() registrystore.ChatRepository { return &chatRepo{s} }

func (s *Store) Branches() registrystore.BranchRepository { return &branchRepo{s} }

func (s *Store) Messages() registrystore.MessageRepository { return &messageRepo{s} }

func (s *Store) Preferences() registrystore.PreferenceRepository { return &prefRepo{s} }

func (s *Store) Close(ctx context.Context) error { return nil }

func copyIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return nil
	}
	return append([]uuid.UUID{}, ids...)
}

func copyChat(c *model.Chat) *model.Chat {
	cp := *c
	cp.BaseMessages = copyIDs(c.BaseMessages)
	cp.ActiveMessages = copyIDs(c.ActiveMessages)
	if c.ActiveBranchID != nil {
		v := *c.ActiveBranchID
		cp.ActiveBranchID = &v
	}
	return &cp
}

func copyBranch(b *model.Branch) *model.Branch {
	cp := *b
	cp.Messages = copyIDs(b.Messages)
	if b.FromMessageID != nil {
		v := *b.FromMessageID
		cp.FromMessageID = &v
	}
	return &cp
}

func copyMessage(m *model.Message) *model.Message {
	cp := *m
	cp.Branches = copyIDs(m.Branches)
	if m.ActiveBranchID != nil {
		v := *m.ActiveBranchID
		cp.ActiveBranchID = &v
	}
	return &cp
}

type chatRepo struct{ s *Store }

func (r *chatRepo) Insert(ctx context.Context, chat *model.Chat) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	r.s.chats[chat.ID] = copyChat(chat)
	return chat.ID, nil
}

func (r *chatRepo) Get(ctx context.Context, id uuid.UUID) (*model.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.chats[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
	}
	return copyChat(c), nil
}

func (r *chatRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.ChatPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Visibility != nil {
		c.Visibility = *patch.Visibility
	}
	if patch.ActiveBranchID != nil {
		v := *patch.ActiveBranchID
		c.ActiveBranchID = &v
	}
	if patch.BaseMessages != nil {
		c.BaseMessages = copyIDs(*patch.BaseMessages)
	}
	if patch.ActiveMessages != nil {
		c.ActiveMessages = copyIDs(*patch.ActiveMessages)
	}
	return nil
}

func (r *chatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.chats[id]; !ok {
		return &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
	}
	delete(r.s.chats, id)
	return nil
}

func (r *chatRepo) ListByOwner(ctx context.Context, userID string, afterCursor *string, limit int) ([]model.Chat, *string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var owned []*model.Chat
	for _, c := range r.s.chats {
		if c.OwnerUserID == userID {
			owned = append(owned, c)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID.String() < owned[j].ID.String()
	})
	start := 0
	if afterCursor != nil {
		for i := range owned {
			if owned[i].ID.String() == *afterCursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	if end > len(owned) {
		end = len(owned)
	}
	out := make([]model.Chat, 0, end-start)
	for _, c := range owned[start:end] {
		out = append(out, *copyChat(c))
	}
	var next *string
	if end < len(owned) && len(out) > 0 {
		cursor := out[len(out)-1].ID.String()
		next = &cursor
	}
	return out, next, nil
}

type branchRepo struct{ s *Store }

func (r *branchRepo) Insert(ctx context.Context, branch *model.Branch) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if branch.ID == uuid.Nil {
		branch.ID = uuid.New()
	}
	r.s.branches[branch.ID] = copyBranch(branch)
	return branch.ID, nil
}

func (r *branchRepo) Get(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.branches[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
	}
	return copyBranch(b), nil
}

func (r *branchRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.BranchPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.branches[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
	}
	if patch.Messages != nil {
		b.Messages = copyIDs(*patch.Messages)
	}
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Description != nil {
		b.Description = *patch.Description
	}
	return nil
}

func (r *branchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.branches[id]; !ok {
		return &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
	}
	delete(r.s.branches, id)
	return nil
}

func (r *branchRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]model.Branch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Branch
	for _, b := range r.s.branches {
		if b.ChatID == chatID {
			out = append(out, *copyBranch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *branchRepo) FindMain(ctx context.Context, chatID uuid.UUID) (*model.Branch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, b := range r.s.branches {
		if b.ChatID == chatID && b.IsMain {
			return copyBranch(b), nil
		}
	}
	return nil, &registrystore.NotFoundError{Resource: "branch", ID: "main:" + chatID.String()}
}

type messageRepo struct{ s *Store }

func (r *messageRepo) Insert(ctx context.Context, msg *model.Message) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	r.s.messages[msg.ID] = copyMessage(msg)
	return msg.ID, nil
}

func (r *messageRepo) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	return copyMessage(m), nil
}

func (r *messageRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok {
			out = append(out, *copyMessage(m))
		}
	}
	return out, nil
}

func (r *messageRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.MessagePatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.Branches != nil {
		m.Branches = copyIDs(*patch.Branches)
	}
	if patch.ActiveBranchID != nil {
		v := *patch.ActiveBranchID
		m.ActiveBranchID = &v
	}
	return nil
}

func (r *messageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[id]; !ok {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	delete(r.s.messages, id)
	return nil
}

func (r *messageRepo) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Message
	for _, m := range r.s.messages {
		if m.BranchID == branchID {
			out = append(out, *copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *messageRepo) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, m := range r.s.messages {
		if m.ChatID == chatID {
			delete(r.s.messages, id)
		}
	}
	return nil
}

func (r *messageRepo) Search(ctx context.Context, chatIDs []uuid.UUID, query string, limit int) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	scope := make(map[uuid.UUID]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		scope[id] = struct{}{}
	}
	needle := strings.ToLower(query)
	var out []model.Message
	for _, m := range r.s.messages {
		if _, ok := scope[m.ChatID]; !ok {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), needle) {
			out = append(out, *copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type prefRepo struct{ s *Store }

func (r *prefRepo) Get(ctx context.Context, userID string) (*model.UserPreferences, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.prefs[userID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "preferences", ID: userID}
	}
	cp := *p
	return &cp, nil
}

func (r *prefRepo) Put(ctx context.Context, prefs *model.UserPreferences) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *prefs
	r.s.prefs[prefs.UserID] = &cp
	return nil
}

func (r *prefRepo) Delete(ctx context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.prefs[userID]; !ok {
		return &registrystore.NotFoundError{Resource: "preferences", ID: userID}
	}
	delete(r.s.prefs, userID)
	return nil
}

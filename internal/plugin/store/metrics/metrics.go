// Package metrics decorates a DocumentStore so that every repository call
// records a latency observation.
package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a DocumentStore that records StoreLatency for every operation.
func Wrap(inner store.DocumentStore) store.DocumentStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.DocumentStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Chats() store.ChatRepository {
	return &chatRepo{inner: m.inner.Chats()}
}

func (m *metricsStore) Branches() store.BranchRepository {
	return &branchRepo{inner: m.inner.Branches()}
}

func (m *metricsStore) Messages() store.MessageRepository {
	return &messageRepo{inner: m.inner.Messages()}
}

func (m *metricsStore) Preferences() store.PreferenceRepository {
	return &prefRepo{inner: m.inner.Preferences()}
}

func (m *metricsStore) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}

type chatRepo struct {
	inner store.ChatRepository
}

func (r *chatRepo) Insert(ctx context.Context, chat *model.Chat) (uuid.UUID, error) {
	defer observe("insert_chat", time.Now())
	return r.inner.Insert(ctx, chat)
}

func (r *chatRepo) Get(ctx context.Context, id uuid.UUID) (*model.Chat, error) {
	defer observe("get_chat", time.Now())
	return r.inner.Get(ctx, id)
}

func (r *chatRepo) Patch(ctx context.Context, id uuid.UUID, patch store.ChatPatch) error {
	defer observe("patch_chat", time.Now())
	return r.inner.Patch(ctx, id, patch)
}

func (r *chatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observe("delete_chat", time.Now())
	return r.inner.Delete(ctx, id)
}

func (r *chatRepo) ListByOwner(ctx context.Context, userID string, afterCursor *string, limit int) ([]model.Chat, *string, error) {
	defer observe("list_chats", time.Now())
	return r.inner.ListByOwner(ctx, userID, afterCursor, limit)
}

type branchRepo struct {
	inner store.BranchRepository
}

func (r *branchRepo) Insert(ctx context.Context, branch *model.Branch) (uuid.UUID, error) {
	defer observe("insert_branch", time.Now())
	return r.inner.Insert(ctx, branch)
}

func (r *branchRepo) Get(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	defer observe("get_branch", time.Now())
	return r.inner.Get(ctx, id)
}

func (r *branchRepo) Patch(ctx context.Context, id uuid.UUID, patch store.BranchPatch) error {
	defer observe("patch_branch", time.Now())
	return r.inner.Patch(ctx, id, patch)
}

func (r *branchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observe("delete_branch", time.Now())
	return r.inner.Delete(ctx, id)
}

func (r *branchRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]model.Branch, error) {
	defer observe("list_branches", time.Now())
	return r.inner.ListByChat(ctx, chatID)
}

func (r *branchRepo) FindMain(ctx context.Context, chatID uuid.UUID) (*model.Branch, error) {
	defer observe("find_main_branch", time.Now())
	return r.inner.FindMain(ctx, chatID)
}

type messageRepo struct {
	inner store.MessageRepository
}

func (r *messageRepo) Insert(ctx context.Context, msg *model.Message) (uuid.UUID, error) {
	defer observe("insert_message", time.Now())
	return r.inner.Insert(ctx, msg)
}

func (r *messageRepo) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return r.inner.Get(ctx, id)
}

func (r *messageRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Message, error) {
	defer observe("get_messages", time.Now())
	return r.inner.GetMany(ctx, ids)
}

func (r *messageRepo) Patch(ctx context.Context, id uuid.UUID, patch store.MessagePatch) error {
	defer observe("patch_message", time.Now())
	return r.inner.Patch(ctx, id, patch)
}

func (r *messageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observe("delete_message", time.Now())
	return r.inner.Delete(ctx, id)
}

func (r *messageRepo) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]model.Message, error) {
	defer observe("list_branch_messages", time.Now())
	return r.inner.ListByBranch(ctx, branchID)
}

func (r *messageRepo) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	defer observe("delete_chat_messages", time.Now())
	return r.inner.DeleteByChat(ctx, chatID)
}

func (r *messageRepo) Search(ctx context.Context, chatIDs []uuid.UUID, query string, limit int) ([]model.Message, error) {
	defer observe("search_messages", time.Now())
	return r.inner.Search(ctx, chatIDs, query, limit)
}

type prefRepo struct {
	inner store.PreferenceRepository
}

func (r *prefRepo) Get(ctx context.Context, userID string) (*model.UserPreferences, error) {
	defer observe("get_preferences", time.Now())
	return r.inner.Get(ctx, userID)
}

func (r *prefRepo) Put(ctx context.Context, prefs *model.UserPreferences) error {
	defer observe("put_preferences", time.Now())
	return r.inner.Put(ctx, prefs)
}

func (r *prefRepo) Delete(ctx context.Context, userID string) error {
	defer observe("delete_preferences", time.Now())
	return r.inner.Delete(ctx, userID)
}

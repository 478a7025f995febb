package gormstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/chat-service/internal/branching"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/store/gormstore"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) registrystore.DocumentStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chat.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Chat{},
		&model.Branch{},
		&model.Message{},
		&model.UserPreferences{},
	))
	return gormstore.New(db)
}

func TestChatRepo_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chat := &model.Chat{OwnerUserID: "alice", Title: "first", Visibility: model.VisibilityPrivate}
	id, err := store.Chats().Insert(ctx, chat)
	require.NoError(t, err)

	got, err := store.Chats().Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "first", got.Title)
	require.Equal(t, model.VisibilityPrivate, got.Visibility)

	title := "renamed"
	require.NoError(t, store.Chats().Patch(ctx, id, registrystore.ChatPatch{Title: &title}))
	got, err = store.Chats().Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)

	require.NoError(t, store.Chats().Delete(ctx, id))
	_, err = store.Chats().Get(ctx, id)
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestChatRepo_PatchMessageLists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Chats().Insert(ctx, &model.Chat{OwnerUserID: "alice", Visibility: model.VisibilityPrivate})
	require.NoError(t, err)

	msg1 := mustInsertMessage(t, store, id)
	msg2 := mustInsertMessage(t, store, id)

	patch := registrystore.ChatPatch{
		BaseMessages:   &[]uuid.UUID{msg1},
		ActiveMessages: &[]uuid.UUID{msg1, msg2},
	}
	require.NoError(t, store.Chats().Patch(ctx, id, patch))

	got, err := store.Chats().Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{msg1}, got.BaseMessages)
	require.Equal(t, []uuid.UUID{msg1, msg2}, got.ActiveMessages)
}

func TestBranchingEngine_OverGormStore(t *testing.T) {
	store := newTestStore(t)
	svc := branching.NewService(store, nil)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "sql chat", model.VisibilityPrivate)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, "alice", chat.ID, model.RoleUser, "q1", "")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, "alice", chat.ID, model.RoleAssistant, "a1", "")
	require.NoError(t, err)

	msgs, err := svc.GetChatMessages(ctx, "alice", chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	res, err := svc.CreateBranchFromMessageEdit(ctx, "alice", msgs[1].ID, "a1-edited")
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalBranches)

	resolved, err := svc.GetChatMessages(ctx, "alice", chat.ID)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, "a1-edited", resolved[1].Content)
}

func TestMessageRepo_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chatID, err := store.Chats().Insert(ctx, &model.Chat{OwnerUserID: "alice", Visibility: model.VisibilityPrivate})
	require.NoError(t, err)
	branchID, err := store.Branches().Insert(ctx, &model.Branch{ChatID: chatID, IsMain: true})
	require.NoError(t, err)

	_, err = store.Messages().Insert(ctx, &model.Message{
		ChatID: chatID, BranchID: branchID, Role: model.RoleUser, Content: "Tell me about Goroutines",
	})
	require.NoError(t, err)
	_, err = store.Messages().Insert(ctx, &model.Message{
		ChatID: chatID, BranchID: branchID, Role: model.RoleAssistant, Content: "unrelated",
	})
	require.NoError(t, err)

	hits, err := store.Messages().Search(ctx, []uuid.UUID{chatID}, "goroutines", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestPreferenceRepo_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Preferences().Put(ctx, &model.UserPreferences{
		UserID: "alice", Theme: "dark",
	}))
	prefs, err := store.Preferences().Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "dark", prefs.Theme)

	require.NoError(t, store.Preferences().Delete(ctx, "alice"))
	_, err = store.Preferences().Get(ctx, "alice")
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func mustInsertMessage(t *testing.T, store registrystore.DocumentStore, chatID uuid.UUID) uuid.UUID {
	t.Helper()
	id, err := store.Messages().Insert(context.Background(), &model.Message{
		ChatID: chatID, BranchID: uuid.New(), Role: model.RoleUser, Content: "x",
	})
	require.NoError(t, err)
	return id
}

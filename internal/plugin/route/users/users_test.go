package users_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-service/internal/branching"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/route/users"
	"github.com/chirino/chat-service/internal/plugin/store/memory"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func setupUsersRouter(t *testing.T) (*gin.Engine, *branching.Service, registrystore.DocumentStore) {
	t.Helper()

	store := memory.New()
	svc := branching.NewService(store, nil)

	cfg := config.DefaultConfig()
	resolver := security.NewTokenResolver(&cfg)
	auth := security.AuthMiddleware(resolver)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	users.MountRoutes(router, svc, store, auth)
	return router, svc, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPreferences_RoundTrip(t *testing.T) {
	router, _, _ := setupUsersRouter(t)

	w := doJSON(t, router, http.MethodPut, "/v1/preferences", "alice",
		gin.H{"defaultModel": "gpt-4o", "theme": "dark"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/preferences", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var prefs model.UserPreferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	require.Equal(t, "alice", prefs.UserID)
	require.Equal(t, "gpt-4o", prefs.DefaultModel)
	require.Equal(t, "dark", prefs.Theme)
}

func TestPreferences_DefaultsWhenUnset(t *testing.T) {
	router, _, _ := setupUsersRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/preferences", "nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var prefs model.UserPreferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	require.Equal(t, "nobody", prefs.UserID)
	require.Empty(t, prefs.DefaultModel)
}

func TestDeleteAccount_RemovesEverything(t *testing.T) {
	router, svc, store := setupUsersRouter(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "doomed", model.VisibilityPrivate)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, "alice", chat.ID, model.RoleUser, "q1", "")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPut, "/v1/preferences", "alice", gin.H{"theme": "light"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/v1/account", "alice", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, err = store.Chats().Get(ctx, chat.ID)
	require.Error(t, err)

	chatList, _, err := store.Chats().ListByOwner(ctx, "alice", nil, 10)
	require.NoError(t, err)
	require.Empty(t, chatList)
}

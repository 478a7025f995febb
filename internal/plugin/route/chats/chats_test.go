package chats_test

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
	"github.com/chirino/chat-service/internal/plugin/route/chats"
	"github.com/chirino/chat-service/internal/plugin/store/memory"
	registrygenai "github.com/chirino/chat-service/internal/registry/genai"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	_ "github.com/chirino/chat-service/internal/plugin/genai/echo"
)

func setupChatsRouter(t *testing.T) (*gin.Engine, *branching.Service) {
	t.Helper()

	store := memory.New()
	svc := branching.NewService(store, nil)

	loader, err := registrygenai.Select("echo")
	require.NoError(t, err)
	provider, err := loader(context.Background())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	resolver := security.NewTokenResolver(&cfg)
	auth := security.AuthMiddleware(resolver)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	chats.MountRoutes(router, svc, store, provider, auth)
	return router, svc
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

func TestCreateAndGetChat(t *testing.T) {
	router, _ := setupChatsRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/chats", "alice", gin.H{"title": "my chat"})
	require.Equal(t, http.StatusCreated, w.Code)

	var chat model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))
	require.Equal(t, "my chat", chat.Title)
	require.Equal(t, "alice", chat.OwnerUserID)
	require.NotNil(t, chat.ActiveBranchID)

	w = doJSON(t, router, http.MethodGet, "/v1/chats/"+chat.ID.String(), "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetChat_PrivateIsHiddenFromOthers(t *testing.T) {
	router, _ := setupChatsRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/chats", "alice", gin.H{"title": "secret"})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))

	w = doJSON(t, router, http.MethodGet, "/v1/chats/"+chat.ID.String(), "bob", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAppendMessage_WithGeneratedReply(t *testing.T) {
	router, _ := setupChatsRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/chats", "alice", gin.H{"title": "gen"})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))

	w = doJSON(t, router, http.MethodPost, "/v1/chats/"+chat.ID.String()+"/messages", "alice",
		gin.H{"content": "hello there", "generate": true})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Message model.Message  `json:"message"`
		Reply   *model.Message `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "hello there", resp.Message.Content)
	require.NotNil(t, resp.Reply)
	require.Equal(t, model.RoleAssistant, resp.Reply.Role)
	require.Equal(t, "echo: hello there", resp.Reply.Content)

	w = doJSON(t, router, http.MethodGet, "/v1/chats/"+chat.ID.String()+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []model.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
}

func TestAppendMessage_EmptyContentRejected(t *testing.T) {
	router, _ := setupChatsRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/chats", "alice", gin.H{"title": "v"})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))

	w = doJSON(t, router, http.MethodPost, "/v1/chats/"+chat.ID.String()+"/messages", "alice", gin.H{"content": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListChats_OnlyOwn(t *testing.T) {
	router, _ := setupChatsRouter(t)

	for _, title := range []string{"one", "two"} {
		w := doJSON(t, router, http.MethodPost, "/v1/chats", "alice", gin.H{"title": title})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := doJSON(t, router, http.MethodPost, "/v1/chats", "bob", gin.H{"title": "other"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/chats", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []model.Chat `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
}

func TestUpdateChat_TitleAndVisibility(t *testing.T) {
	router, _ := setupChatsRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/chats", "alice", gin.H{"title": "old"})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))

	w = doJSON(t, router, http.MethodPatch, "/v1/chats/"+chat.ID.String(), "alice",
		gin.H{"title": "new", "visibility": "public"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, "new", updated.Title)
	require.Equal(t, model.VisibilityPublic, updated.Visibility)

	w = doJSON(t, router, http.MethodPatch, "/v1/chats/"+chat.ID.String(), "alice", gin.H{"visibility": "bogus"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteChat_OwnerOnly(t *testing.T) {
	router, _ := setupChatsRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/chats", "alice", gin.H{"title": "mine"})
	require.Equal(t, http.StatusCreated, w.Code)
	var chat model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))

	w = doJSON(t, router, http.MethodDelete, "/v1/chats/"+chat.ID.String(), "bob", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/v1/chats/"+chat.ID.String(), "alice", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/chats/"+chat.ID.String(), "alice", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestForkChat_CopiesMessages(t *testing.T) {
	router, svc := setupChatsRouter(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", "source", model.VisibilityPrivate)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, "alice", chat.ID, model.RoleUser, "q1", "")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, "alice", chat.ID, model.RoleAssistant, "a1", "")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/v1/chats/"+chat.ID.String()+"/fork", "alice", gin.H{"title": "copy"})
	require.Equal(t, http.StatusCreated, w.Code)
	var fork model.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fork))
	require.NotEqual(t, chat.ID, fork.ID)

	msgs, err := svc.GetChatMessages(ctx, "alice", fork.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "q1", msgs[0].Content)
}

func TestChatRoutes_RequireAuth(t *testing.T) {
	router, _ := setupChatsRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetChat_UnknownIDIsNotFound(t *testing.T) {
	router, _ := setupChatsRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/chats/not-a-uuid", "alice", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

package messages_test

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
	"github.com/chirino/chat-service/internal/plugin/route/messages"
	"github.com/chirino/chat-service/internal/plugin/store/memory"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func setupMessagesRouter(t *testing.T) (*gin.Engine, *branching.Service) {
	t.Helper()

	svc := branching.NewService(memory.New(), nil)

	cfg := config.DefaultConfig()
	resolver := security.NewTokenResolver(&cfg)
	auth := security.AuthMiddleware(resolver)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	messages.MountRoutes(router, svc, auth)
	return router, svc
}

// seedChat creates a chat for alice with the given contents as alternating
// user/assistant turns and returns the chat plus the resolved messages.
func seedChat(t *testing.T, svc *branching.Service, contents ...string) (*model.Chat, []model.Message) {
	t.Helper()
	ctx := context.Background()
	chat, err := svc.CreateChat(ctx, "alice", "seed", model.VisibilityPrivate)
	require.NoError(t, err)
	roles := []model.Role{model.RoleUser, model.RoleAssistant}
	for i, content := range contents {
		_, err := svc.AppendMessage(ctx, "alice", chat.ID, roles[i%2], content, "")
		require.NoError(t, err)
	}
	msgs, err := svc.GetChatMessages(ctx, "alice", chat.ID)
	require.NoError(t, err)
	return chat, msgs
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

func TestEditMessage_ForksConversation(t *testing.T) {
	router, svc := setupMessagesRouter(t)
	chat, msgs := seedChat(t, svc, "q1", "a1", "q2", "a2")

	w := doJSON(t, router, http.MethodPut, "/v1/messages/"+msgs[1].ID.String(), "alice",
		gin.H{"content": "a1-edited"})
	require.Equal(t, http.StatusOK, w.Code)

	var res branching.EditResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.TotalBranches)
	require.Equal(t, 2, res.BranchNumber)

	resolved, err := svc.GetChatMessages(context.Background(), "alice", chat.ID)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, "a1-edited", resolved[1].Content)
}

func TestEditMessage_EmptyContentRejected(t *testing.T) {
	router, svc := setupMessagesRouter(t)
	_, msgs := seedChat(t, svc, "q1", "a1")

	w := doJSON(t, router, http.MethodPut, "/v1/messages/"+msgs[0].ID.String(), "alice", gin.H{"content": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditMessage_ForeignChatForbidden(t *testing.T) {
	router, svc := setupMessagesRouter(t)
	_, msgs := seedChat(t, svc, "q1", "a1")

	w := doJSON(t, router, http.MethodPut, "/v1/messages/"+msgs[0].ID.String(), "bob", gin.H{"content": "hijack"})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMessageBranchesAndNavigate(t *testing.T) {
	router, svc := setupMessagesRouter(t)
	chat, msgs := seedChat(t, svc, "q1", "a1", "q2")
	ctx := context.Background()

	_, err := svc.CreateBranchFromMessageEdit(ctx, "alice", msgs[1].ID, "a1-edited")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodGet, "/v1/messages/"+msgs[1].ID.String()+"/branches", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list branching.BranchList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Branches, 2)
	require.Equal(t, "2/2", list.Label)

	// Switch back to the original continuation.
	w = doJSON(t, router, http.MethodPost, "/v1/messages/"+msgs[1].ID.String()+"/navigate", "alice",
		gin.H{"branchId": list.Branches[0].BranchID.String()})
	require.Equal(t, http.StatusOK, w.Code)

	var nav branching.NavigateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nav))
	require.Equal(t, list.Branches[0].BranchID, nav.SwitchedToBranch)

	resolved, err := svc.GetChatMessages(ctx, "alice", chat.ID)
	require.NoError(t, err)
	require.Equal(t, "a1", resolved[1].Content)
	require.Equal(t, "q2", resolved[2].Content)
}

func TestNavigate_InvalidBranchID(t *testing.T) {
	router, svc := setupMessagesRouter(t)
	_, msgs := seedChat(t, svc, "q1", "a1")

	w := doJSON(t, router, http.MethodPost, "/v1/messages/"+msgs[0].ID.String()+"/navigate", "alice",
		gin.H{"branchId": "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteMessage_DivergencePointDropsSiblings(t *testing.T) {
	router, svc := setupMessagesRouter(t)
	chat, msgs := seedChat(t, svc, "q1", "a1", "q2")
	ctx := context.Background()

	_, err := svc.CreateBranchFromMessageEdit(ctx, "alice", msgs[1].ID, "a1-edited")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodDelete, "/v1/messages/"+msgs[1].ID.String(), "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res branching.DeletionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.DeletedBranches)

	resolved, err := svc.GetChatMessages(ctx, "alice", chat.ID)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, "q1", resolved[0].Content)
}

func TestDeleteMessage_UnknownIDIsNotFound(t *testing.T) {
	router, _ := setupMessagesRouter(t)

	w := doJSON(t, router, http.MethodDelete, "/v1/messages/00000000-0000-0000-0000-000000000001", "alice", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchMessages(t *testing.T) {
	router, svc := setupMessagesRouter(t)
	seedChat(t, svc, "how do goroutines work", "they are lightweight threads")
	seedChat(t, svc, "unrelated", "noise")

	w := doJSON(t, router, http.MethodGet, "/v1/search?q=goroutines", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data []model.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, "how do goroutines work", list.Data[0].Content)

	// Empty query is a validation error.
	w = doJSON(t, router, http.MethodGet, "/v1/search?q=", "alice", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

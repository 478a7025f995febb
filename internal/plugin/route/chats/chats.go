// Package chats mounts the chat-level HTTP surface: chat CRUD, the resolved
// message view, message appends with optional assistant generation, chat
// forking, and the consistency refresh hook.
package chats

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/chirino/chat-service/internal/branching"
	"github.com/chirino/chat-service/internal/model"
	registrygenai "github.com/chirino/chat-service/internal/registry/genai"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts chat routes on the given router. Called after store
// initialization so the engine is available. provider may be nil when no
// completion backend is configured.
func MountRoutes(r *gin.Engine, svc *branching.Service, store registrystore.DocumentStore, provider registrygenai.Provider, auth gin.HandlerFunc) {
	clientID := security.ClientIDMiddleware()

	g := r.Group("/v1", auth, clientID)

	g.GET("/chats", func(c *gin.Context) {
		listChats(c, store)
	})
	g.POST("/chats", func(c *gin.Context) {
		createChat(c, svc)
	})
	g.GET("/chats/:chatId", func(c *gin.Context) {
		getChat(c, store)
	})
	g.PATCH("/chats/:chatId", func(c *gin.Context) {
		updateChat(c, store)
	})
	g.DELETE("/chats/:chatId", func(c *gin.Context) {
		deleteChat(c, svc)
	})
	g.GET("/chats/:chatId/messages", func(c *gin.Context) {
		getChatMessages(c, svc)
	})
	g.POST("/chats/:chatId/messages", func(c *gin.Context) {
		appendMessage(c, svc, provider)
	})
	g.POST("/chats/:chatId/fork", func(c *gin.Context) {
		forkChat(c, svc)
	})
	g.POST("/chats/:chatId/refresh", func(c *gin.Context) {
		refreshChat(c, svc, store)
	})
}

func listChats(c *gin.Context, store registrystore.DocumentStore) {
	userID := security.GetUserID(c)
	afterCursor := queryPtr(c, "afterCursor")
	limit := queryInt(c, "limit", 20)

	chats, cursor, err := store.Chats().ListByOwner(c.Request.Context(), userID, afterCursor, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": chats, "afterCursor": cursor})
}

func createChat(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	var req struct {
		Title      string `json:"title"`
		Visibility string `json:"visibility"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Title) > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "title exceeds maximum length"})
		return
	}

	chat, err := svc.CreateChat(c.Request.Context(), userID, req.Title, model.Visibility(req.Visibility))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func getChat(c *gin.Context, store registrystore.DocumentStore) {
	userID := security.GetUserID(c)
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}

	chat, err := store.Chats().Get(c.Request.Context(), chatID)
	if err != nil {
		handleError(c, err)
		return
	}
	if chat.OwnerUserID != userID && !chat.Visibility.AllowsRead() {
		handleError(c, &registrystore.ForbiddenError{})
		return
	}
	c.JSON(http.StatusOK, chat)
}

func updateChat(c *gin.Context, store registrystore.DocumentStore) {
	userID := security.GetUserID(c)
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}

	var req struct {
		Title      *string `json:"title"`
		Visibility *string `json:"visibility"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title != nil && len(*req.Title) > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title exceeds maximum length"})
		return
	}

	chat, err := store.Chats().Get(c.Request.Context(), chatID)
	if err != nil {
		handleError(c, err)
		return
	}
	if chat.OwnerUserID != userID {
		handleError(c, &registrystore.ForbiddenError{})
		return
	}

	patch := registrystore.ChatPatch{Title: req.Title}
	if req.Visibility != nil {
		v := model.Visibility(*req.Visibility)
		switch v {
		case model.VisibilityPrivate, model.VisibilityPublic, model.VisibilityCollaborative:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid visibility"})
			return
		}
		patch.Visibility = &v
	}
	if err := store.Chats().Patch(c.Request.Context(), chatID, patch); err != nil {
		handleError(c, err)
		return
	}
	updated, err := store.Chats().Get(c.Request.Context(), chatID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func deleteChat(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}

	if err := svc.DeleteChat(c.Request.Context(), userID, chatID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func getChatMessages(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}

	msgs, err := svc.GetChatMessages(c.Request.Context(), userID, chatID)
	if err != nil {
		handleError(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

func appendMessage(c *gin.Context, svc *branching.Service, provider registrygenai.Provider) {
	userID := security.GetUserID(c)
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}

	var req struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Model    string `json:"model"`
		Generate bool   `json:"generate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := model.Role(req.Role)
	if role == "" {
		role = model.RoleUser
	}
	switch role {
	case model.RoleUser, model.RoleAssistant, model.RoleSystem:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid role"})
		return
	}
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "content must not be empty"})
		return
	}

	msg, err := svc.AppendMessage(c.Request.Context(), userID, chatID, role, req.Content, req.Model)
	if err != nil {
		handleError(c, err)
		return
	}

	// Optionally generate the assistant reply in the same request.
	var reply *model.Message
	if req.Generate && role == model.RoleUser {
		if provider == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no completion provider configured"})
			return
		}
		history, err := svc.GetChatMessages(c.Request.Context(), userID, chatID)
		if err != nil {
			handleError(c, err)
			return
		}
		turns := make([]registrygenai.Turn, 0, len(history))
		for i := range history {
			turns = append(turns, registrygenai.Turn{Role: history[i].Role, Content: history[i].Content})
		}
		content, err := provider.Complete(c.Request.Context(), turns, req.Model)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "completion failed"})
			return
		}
		modelName := req.Model
		if modelName == "" {
			modelName = provider.DefaultModel()
		}
		reply, err = svc.AppendMessage(c.Request.Context(), userID, chatID, model.RoleAssistant, content, modelName)
		if err != nil {
			handleError(c, err)
			return
		}
	}

	if reply != nil {
		c.JSON(http.StatusCreated, gin.H{"message": msg, "reply": reply})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func forkChat(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}

	var req struct {
		Title       string  `json:"title"`
		AtMessageId *string `json:"atMessageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var atMessageID *uuid.UUID
	if req.AtMessageId != nil {
		id, err := uuid.Parse(*req.AtMessageId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid atMessageId"})
			return
		}
		atMessageID = &id
	}

	fork, err := svc.ForkChat(c.Request.Context(), userID, chatID, atMessageID, req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fork)
}

// refreshChat recomputes the chat's denormalized active message list. Exposed
// so operators can repair a chat after a crashed mutation.
func refreshChat(c *gin.Context, svc *branching.Service, store registrystore.DocumentStore) {
	userID := security.GetUserID(c)
	chatID, ok := pathUUID(c, "chatId", "chat")
	if !ok {
		return
	}

	chat, err := store.Chats().Get(c.Request.Context(), chatID)
	if err != nil {
		handleError(c, err)
		return
	}
	if chat.OwnerUserID != userID && !chat.Visibility.AllowsWrite() {
		handleError(c, &registrystore.ForbiddenError{})
		return
	}
	if err := svc.UpdateActiveMessages(c.Request.Context(), chatID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// --- Helpers ---

func pathUUID(c *gin.Context, param string, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": resource + " not found"})
		return uuid.Nil, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryPtr(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return def
	}
	return i
}

// Package messages mounts the message-level HTTP surface: edits that fork the
// conversation, branch listing and navigation, deletion, and content search.
package messages

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/chirino/chat-service/internal/branching"
	"github.com/chirino/chat-service/internal/model"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 110,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts message routes on the given router.
func MountRoutes(r *gin.Engine, svc *branching.Service, auth gin.HandlerFunc) {
	clientID := security.ClientIDMiddleware()

	g := r.Group("/v1", auth, clientID)

	g.PUT("/messages/:messageId", func(c *gin.Context) {
		editMessage(c, svc)
	})
	g.GET("/messages/:messageId/branches", func(c *gin.Context) {
		getMessageBranches(c, svc)
	})
	g.POST("/messages/:messageId/navigate", func(c *gin.Context) {
		navigateToBranch(c, svc)
	})
	g.DELETE("/messages/:messageId", func(c *gin.Context) {
		deleteMessage(c, svc)
	})
	g.GET("/search", func(c *gin.Context) {
		searchMessages(c, svc)
	})
}

func editMessage(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	messageID, ok := pathUUID(c, "messageId")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := svc.CreateBranchFromMessageEdit(c.Request.Context(), userID, messageID, req.Content)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func getMessageBranches(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	messageID, ok := pathUUID(c, "messageId")
	if !ok {
		return
	}

	list, err := svc.GetMessageBranches(c.Request.Context(), userID, messageID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func navigateToBranch(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	messageID, ok := pathUUID(c, "messageId")
	if !ok {
		return
	}

	var req struct {
		BranchId string `json:"branchId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	branchID, err := uuid.Parse(req.BranchId)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid branchId"})
		return
	}

	res, err := svc.NavigateToBranch(c.Request.Context(), userID, messageID, branchID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func deleteMessage(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	messageID, ok := pathUUID(c, "messageId")
	if !ok {
		return
	}

	res, err := svc.HandleMessageDeletion(c.Request.Context(), userID, messageID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func searchMessages(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)
	query := c.Query("q")
	limit := queryInt(c, "limit", 0)

	hits, err := svc.SearchMessages(c.Request.Context(), userID, query, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	if hits == nil {
		hits = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"data": hits})
}

// --- Helpers ---

func pathUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
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

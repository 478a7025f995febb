// Package users mounts the per-user HTTP surface: preference storage and
// whole-account deletion.
package users

import (
	"errors"
	"net/http"
	"time"

	"github.com/chirino/chat-service/internal/branching"
	"github.com/chirino/chat-service/internal/model"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 120,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts user routes on the given router.
func MountRoutes(r *gin.Engine, svc *branching.Service, store registrystore.DocumentStore, auth gin.HandlerFunc) {
	clientID := security.ClientIDMiddleware()

	g := r.Group("/v1", auth, clientID)

	g.GET("/preferences", func(c *gin.Context) {
		getPreferences(c, store)
	})
	g.PUT("/preferences", func(c *gin.Context) {
		putPreferences(c, store)
	})
	g.DELETE("/account", func(c *gin.Context) {
		deleteAccount(c, svc)
	})
}

func getPreferences(c *gin.Context, store registrystore.DocumentStore) {
	userID := security.GetUserID(c)

	prefs, err := store.Preferences().Get(c.Request.Context(), userID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			// Users that never saved preferences get the defaults.
			c.JSON(http.StatusOK, model.UserPreferences{UserID: userID})
			return
		}
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func putPreferences(c *gin.Context, store registrystore.DocumentStore) {
	userID := security.GetUserID(c)

	var req struct {
		DefaultModel string         `json:"defaultModel"`
		Theme        string         `json:"theme"`
		Metadata     map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prefs := &model.UserPreferences{
		UserID:       userID,
		DefaultModel: req.DefaultModel,
		Theme:        req.Theme,
		Metadata:     req.Metadata,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := store.Preferences().Put(c.Request.Context(), prefs); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func deleteAccount(c *gin.Context, svc *branching.Service) {
	userID := security.GetUserID(c)

	if err := svc.DeleteAccount(c.Request.Context(), userID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

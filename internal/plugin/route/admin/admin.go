package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/config"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// MountRoutes mounts the admin surface. All routes require the admin role on
// top of normal authentication.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/v1/admin", auth, security.RequireAdminRole())

	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, store)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, store)
	})
	g.DELETE("/conversations/:conversationId", func(c *gin.Context) {
		purgeConversation(c, store)
	})
}

func listConversations(c *gin.Context, store registrystore.ChatStore) {
	summaries, err := store.AdminListConversations(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

// getConversation returns a single conversation row for inspection.
func getConversation(c *gin.Context, store registrystore.ChatStore) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}
	conversation, err := store.GetConversation(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// purgeConversation removes a conversation and all of its messages without a
// participant check.
func purgeConversation(c *gin.Context, store registrystore.ChatStore) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}
	if err := store.AdminPurgeConversation(c.Request.Context(), convID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

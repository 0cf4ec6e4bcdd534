package conversations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/config"
	registryattach "github.com/ichat/chat-service/internal/registry/attach"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// MountRoutes mounts conversation routes on the given router.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, blobs registryattach.BlobStore, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/conversations", func(c *gin.Context) {
		createConversation(c, store, blobs, cfg)
	})
	g.GET("/conversations", func(c *gin.Context) {
		listMyConversations(c, store)
	})
	g.DELETE("/conversations/:conversationId", func(c *gin.Context) {
		deleteConversation(c, store)
	})
	g.DELETE("/conversations/:conversationId/participants/:userId", func(c *gin.Context) {
		removeParticipant(c, store)
	})
}

// createConversation starts a conversation, reusing an existing one when the
// same participant list (in order or exactly reversed) already has one.
// A groupImage blob reference is resolved to a retrievable URL before the
// conversation is stored, like media message content.
func createConversation(c *gin.Context, store registrystore.ChatStore, blobs registryattach.BlobStore, cfg *config.Config) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}

	var req struct {
		Participants []string `json:"participants"`
		IsGroup      bool     `json:"isGroup"`
		GroupName    string   `json:"groupName"`
		GroupImage   *string  `json:"groupImage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participants := make([]uuid.UUID, 0, len(req.Participants))
	for _, raw := range req.Participants {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid participant id", "field": "participants"})
			return
		}
		participants = append(participants, id)
	}

	create := registrystore.CreateConversationRequest{
		Participants: participants,
		IsGroup:      req.IsGroup,
		GroupName:    req.GroupName,
	}
	if req.IsGroup {
		create.AdminUserID = &user.ID
	}
	if req.GroupImage != nil && *req.GroupImage != "" {
		u, err := blobs.ResolveURL(c.Request.Context(), *req.GroupImage, cfg.MediaURLExpiresIn)
		if err != nil {
			handleError(c, err)
			return
		}
		resolved := u.String()
		create.GroupImage = &resolved
	}

	id, created, err := store.CreateConversation(c.Request.Context(), user.ID, create)
	if err != nil {
		handleError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversationId": id, "created": created})
}

func listMyConversations(c *gin.Context, store registrystore.ChatStore) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}
	summaries, err := store.ListMyConversations(c.Request.Context(), user.ID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

func deleteConversation(c *gin.Context, store registrystore.ChatStore) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}
	if err := store.DeleteConversation(c.Request.Context(), user.ID, convID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func removeParticipant(c *gin.Context, store registrystore.ChatStore) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "user not found"})
		return
	}
	if err := store.RemoveParticipant(c.Request.Context(), user.ID, convID, targetID); err != nil {
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

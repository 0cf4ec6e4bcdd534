package messages

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/model"
	registryattach "github.com/ichat/chat-service/internal/registry/attach"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// MountRoutes mounts message routes on the given router.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, blobs registryattach.BlobStore, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		listMessages(c, store)
	})
	g.POST("/conversations/:conversationId/messages", func(c *gin.Context) {
		sendText(c, store)
	})
	g.POST("/conversations/:conversationId/messages/image", func(c *gin.Context) {
		sendMedia(c, store, blobs, cfg, model.KindImage)
	})
	g.POST("/conversations/:conversationId/messages/video", func(c *gin.Context) {
		sendMedia(c, store, blobs, cfg, model.KindVideo)
	})
	g.POST("/conversations/:conversationId/messages/audio", func(c *gin.Context) {
		sendMedia(c, store, blobs, cfg, model.KindAudio)
	})
	g.DELETE("/messages/:messageId", func(c *gin.Context) {
		deleteMessage(c, store)
	})
}

func listMessages(c *gin.Context, store registrystore.ChatStore) {
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
	details, err := store.ListMessages(c.Request.Context(), user.ID, convID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": details})
}

func sendText(c *gin.Context, store registrystore.ChatStore) {
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
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	detail, err := store.AppendMessage(c.Request.Context(), registrystore.AppendMessageRequest{
		ConversationID: convID,
		SenderID:       user.ID,
		Kind:           model.KindText,
		Content:        req.Content,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

// sendMedia stores a media message. The blob reference is resolved to a
// retrievable URL at send time and the URL becomes the message content.
func sendMedia(c *gin.Context, store registrystore.ChatStore, blobs registryattach.BlobStore, cfg *config.Config, kind model.MessageKind) {
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
	var req struct {
		BlobRef string `json:"blobRef"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.BlobRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "blobRef is required", "field": "blobRef"})
		return
	}

	u, err := blobs.ResolveURL(c.Request.Context(), req.BlobRef, cfg.MediaURLExpiresIn)
	if err != nil {
		handleError(c, err)
		return
	}

	detail, err := store.AppendMessage(c.Request.Context(), registrystore.AppendMessageRequest{
		ConversationID: convID,
		SenderID:       user.ID,
		Kind:           kind,
		Content:        u.String(),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func deleteMessage(c *gin.Context, store registrystore.ChatStore) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}
	if err := store.SoftDeleteMessage(c.Request.Context(), user.ID, messageID); err != nil {
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

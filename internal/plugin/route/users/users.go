package users

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/model"
	registrypresence "github.com/ichat/chat-service/internal/registry/presence"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// MountRoutes mounts user and presence routes.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, tracker registrypresence.Tracker, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.PUT("/users/me", func(c *gin.Context) {
		syncMe(c, store, tracker)
	})
	g.GET("/users/me", func(c *gin.Context) {
		getMe(c, store)
	})
	g.GET("/users", func(c *gin.Context) {
		listUsers(c, store, tracker)
	})
	g.POST("/users/me/online", func(c *gin.Context) {
		setOnline(c, store, tracker, true)
	})
	g.DELETE("/users/me/online", func(c *gin.Context) {
		setOnline(c, store, tracker, false)
	})
}

// syncMe upserts the caller's profile from their identity provider claims.
// Creates the user record on first sign-in.
func syncMe(c *gin.Context, store registrystore.ChatStore, tracker registrypresence.Tracker) {
	tokenIdentifier := security.GetTokenIdentifier(c)
	var req struct {
		Name  *string `json:"name"`
		Email string  `json:"email"`
		Image *string `json:"image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := store.EnsureUser(c.Request.Context(), tokenIdentifier, registrystore.UserProfile{
		Name:  req.Name,
		Email: req.Email,
		Image: req.Image,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	if err := tracker.MarkOnline(c.Request.Context(), user.ID); err != nil {
		log.Warn("Failed to record presence heartbeat", "user", user.ID, "error", err)
	}
	c.JSON(http.StatusOK, user)
}

func getMe(c *gin.Context, store registrystore.ChatStore) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// listUsers returns every user except the caller, with presence overlaid from
// the live tracker.
func listUsers(c *gin.Context, store registrystore.ChatStore, tracker registrypresence.Tracker) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}
	others, err := store.ListUsers(c.Request.Context(), user.ID)
	if err != nil {
		handleError(c, err)
		return
	}
	if err := overlayPresence(c, tracker, others); err != nil {
		log.Warn("Failed to query presence, falling back to stored flags", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"data": others})
}

func overlayPresence(c *gin.Context, tracker registrypresence.Tracker, users []model.User) error {
	ids := make([]uuid.UUID, len(users))
	for i := range users {
		ids[i] = users[i].ID
	}
	online, err := tracker.Online(c.Request.Context(), ids)
	if err != nil {
		return err
	}
	count := 0
	for i := range users {
		users[i].IsOnline = online[users[i].ID]
		if users[i].IsOnline {
			count++
		}
	}
	if security.PresenceOnlineUsers != nil {
		security.PresenceOnlineUsers.Set(float64(count))
	}
	return nil
}

func setOnline(c *gin.Context, store registrystore.ChatStore, tracker registrypresence.Tracker, online bool) {
	user, err := store.ResolveUser(c.Request.Context(), security.GetTokenIdentifier(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if online {
		err = tracker.MarkOnline(c.Request.Context(), user.ID)
	} else {
		err = tracker.MarkOffline(c.Request.Context(), user.ID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if err := store.SetUserOnline(c.Request.Context(), user.ID, online); err != nil {
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

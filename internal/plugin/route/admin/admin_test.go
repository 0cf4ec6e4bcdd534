package admin_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/model"
	"github.com/ichat/chat-service/internal/plugin/route/admin"
	"github.com/ichat/chat-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/ichat/chat-service/internal/registry/migrate"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

var dbCounter atomic.Int64

func setupRouter(t *testing.T) (*gin.Engine, registrystore.ChatStore, context.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = fmt.Sprintf("file:admin_route_test_%d?mode=memory&cache=shared", dbCounter.Add(1))
	cfg.AdminUsers = "root"
	ctx := config.WithContext(context.Background(), &cfg)

	_ = gormstore.ForceImport
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	require.NoError(t, registrymigrate.RunAll(ctx))

	router := gin.New()
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))
	admin.MountRoutes(router, store, &cfg, auth)
	return router, store, ctx
}

func request(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedConversation(t *testing.T, ctx context.Context, store registrystore.ChatStore) uuid.UUID {
	t.Helper()
	alice, err := store.EnsureUser(ctx, "alice", registrystore.UserProfile{Email: "alice@example.com"})
	require.NoError(t, err)
	bob, err := store.EnsureUser(ctx, "bob", registrystore.UserProfile{Email: "bob@example.com"})
	require.NoError(t, err)

	convID, _, err := store.CreateConversation(ctx, alice.ID, registrystore.CreateConversationRequest{
		Participants: []uuid.UUID{alice.ID, bob.ID},
	})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, registrystore.AppendMessageRequest{
		ConversationID: convID,
		SenderID:       alice.ID,
		Kind:           model.KindText,
		Content:        "hello",
	})
	require.NoError(t, err)
	return convID
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, store, ctx := setupRouter(t)
	seedConversation(t, ctx, store)

	w := request(router, http.MethodGet, "/v1/admin/conversations", "alice")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(router, http.MethodGet, "/v1/admin/conversations", "root")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminGetAndPurgeConversation(t *testing.T) {
	router, store, ctx := setupRouter(t)
	convID := seedConversation(t, ctx, store)

	w := request(router, http.MethodGet, "/v1/admin/conversations/"+convID.String(), "root")
	require.Equal(t, http.StatusOK, w.Code)
	var conversation model.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conversation))
	assert.Equal(t, convID, conversation.ID)
	assert.Len(t, conversation.Participants, 2)

	w = request(router, http.MethodDelete, "/v1/admin/conversations/"+convID.String(), "root")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = request(router, http.MethodGet, "/v1/admin/conversations/"+convID.String(), "root")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(router, http.MethodDelete, "/v1/admin/conversations/"+uuid.NewString(), "root")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package users_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/model"
	presencelocal "github.com/ichat/chat-service/internal/plugin/presence/local"
	"github.com/ichat/chat-service/internal/plugin/route/users"
	"github.com/ichat/chat-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/ichat/chat-service/internal/registry/migrate"
	registrypresence "github.com/ichat/chat-service/internal/registry/presence"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

var dbCounter atomic.Int64

func setupRouter(t *testing.T) (*gin.Engine, registrystore.ChatStore, registrypresence.Tracker, context.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = fmt.Sprintf("file:user_route_test_%d?mode=memory&cache=shared", dbCounter.Add(1))
	ctx := config.WithContext(context.Background(), &cfg)

	_ = gormstore.ForceImport
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	require.NoError(t, registrymigrate.RunAll(ctx))

	tracker, err := presencelocal.New(&cfg)
	require.NoError(t, err)

	router := gin.New()
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))
	users.MountRoutes(router, store, tracker, &cfg, auth)
	return router, store, tracker, ctx
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSyncMeCreatesUser(t *testing.T) {
	router, store, _, ctx := setupRouter(t)

	w := doJSON(router, http.MethodPut, "/v1/users/me", "oidc|alice", gin.H{
		"name":  "Alice",
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Name)
	assert.Equal(t, "Alice", *created.Name)

	// Same identity resolves to the same row.
	resolved, err := store.ResolveUser(ctx, "oidc|alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, resolved.ID)

	// Profile updates flow through on re-sync.
	w = doJSON(router, http.MethodPut, "/v1/users/me", "oidc|alice", gin.H{
		"name":  "Alice B.",
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var updated model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, created.ID, updated.ID)
	require.NotNil(t, updated.Name)
	assert.Equal(t, "Alice B.", *updated.Name)
}

func TestGetMeUnknownUser(t *testing.T) {
	router, _, _, _ := setupRouter(t)

	// Authenticated but never synced.
	w := doJSON(router, http.MethodGet, "/v1/users/me", "oidc|stranger", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUsersOverlaysPresence(t *testing.T) {
	router, _, _, _ := setupRouter(t)

	w := doJSON(router, http.MethodPut, "/v1/users/me", "alice", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(router, http.MethodPut, "/v1/users/me", "bob", gin.H{"email": "bob@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	// Bob goes offline explicitly.
	w = doJSON(router, http.MethodDelete, "/v1/users/me/online", "bob", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, http.MethodGet, "/v1/users", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Data []model.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Data, 1)
	assert.Equal(t, "bob@example.com", listing.Data[0].Email)
	assert.False(t, listing.Data[0].IsOnline)

	// Bob's heartbeat flips him back online.
	w = doJSON(router, http.MethodPost, "/v1/users/me/online", "bob", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, http.MethodGet, "/v1/users", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Data, 1)
	assert.True(t, listing.Data[0].IsOnline)
}

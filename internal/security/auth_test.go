package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ichat/chat-service/internal/config"
)

func TestResolve_BearerTokenAsIdentifier(t *testing.T) {
	cfg := config.DefaultConfig()
	resolver := NewTokenResolver(&cfg)

	id, err := resolver.Resolve(context.Background(), "oidc|alice", "", "")
	require.NoError(t, err)
	require.Equal(t, "oidc|alice", id.TokenIdentifier)
	require.False(t, id.IsAdmin)
}

func TestResolve_APIKeyMapsToClientID(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIKeys = map[string]string{"secret-key": "web"}
	cfg.AdminClients = "web"
	resolver := NewTokenResolver(&cfg)

	id, err := resolver.Resolve(context.Background(), "oidc|alice", "secret-key", "")
	require.NoError(t, err)
	require.Equal(t, "web", id.ClientID)
	require.True(t, id.IsAdmin)

	// Unknown key does not resolve to a client.
	id, err = resolver.Resolve(context.Background(), "oidc|alice", "wrong-key", "")
	require.NoError(t, err)
	require.Empty(t, id.ClientID)
	require.False(t, id.IsAdmin)
}

func TestResolve_ClientIDHeaderOnlyInTestingMode(t *testing.T) {
	cfg := config.DefaultConfig()
	resolver := NewTokenResolver(&cfg)

	id, err := resolver.Resolve(context.Background(), "oidc|alice", "", "spoofed")
	require.NoError(t, err)
	require.Empty(t, id.ClientID)

	cfg.Mode = config.ModeTesting
	resolver = NewTokenResolver(&cfg)
	id, err = resolver.Resolve(context.Background(), "oidc|alice", "", "spoofed")
	require.NoError(t, err)
	require.Equal(t, "spoofed", id.ClientID)
}

func TestResolve_AdminUsers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AdminUsers = "oidc|root, oidc|ops"
	resolver := NewTokenResolver(&cfg)

	id, err := resolver.Resolve(context.Background(), "oidc|root", "", "")
	require.NoError(t, err)
	require.True(t, id.IsAdmin)

	id, err = resolver.Resolve(context.Background(), "oidc|alice", "", "")
	require.NoError(t, err)
	require.False(t, id.IsAdmin)
}

func TestExtractTokenRoles(t *testing.T) {
	roles := extractTokenRoles(map[string]any{
		"roles": []any{"admin", "user"},
		"scope": "openid profile",
		"realm_access": map[string]any{
			"roles": []any{"operator"},
		},
	})
	require.True(t, roles["admin"])
	require.True(t, roles["user"])
	require.True(t, roles["profile"])
	require.True(t, roles["operator"])
	require.False(t, roles["missing"])
}

func TestAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	router := gin.New()
	router.Use(AuthMiddleware(NewTokenResolver(&cfg)))
	router.GET("/v1/users/me", func(c *gin.Context) {
		c.String(http.StatusOK, GetTokenIdentifier(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer oidc|alice")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "oidc|alice", rec.Body.String())
}

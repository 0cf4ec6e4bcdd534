package media_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/plugin/route/media"
	registryattach "github.com/ichat/chat-service/internal/registry/attach"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// memBlobStore is an in-memory BlobStore fake for route tests.
type memBlobStore struct {
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: map[string][]byte{}}
}

func (m *memBlobStore) CreateUploadHandle(ctx context.Context, contentType string) (*registryattach.UploadHandle, error) {
	ref := uuid.NewString()
	m.blobs[ref] = nil
	return &registryattach.UploadHandle{
		Ref:       ref,
		URL:       "/v1/uploads/" + ref,
		Method:    http.MethodPut,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil
}

func (m *memBlobStore) Store(ctx context.Context, ref string, data io.Reader, maxSize int64, contentType string) (*registryattach.StoreResult, error) {
	if _, ok := m.blobs[ref]; !ok {
		return nil, &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	m.blobs[ref] = b
	return &registryattach.StoreResult{Ref: ref, Size: int64(len(b))}, nil
}

func (m *memBlobStore) Retrieve(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	b, ok := m.blobs[ref]
	if !ok || b == nil {
		return nil, "", &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	return io.NopCloser(bytes.NewReader(b)), "image/png", nil
}

func (m *memBlobStore) ResolveURL(ctx context.Context, ref string, expiry time.Duration) (*url.URL, error) {
	b, ok := m.blobs[ref]
	if !ok || b == nil {
		return nil, &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	return url.Parse("https://media.example.com/blobs/" + ref)
}

func (m *memBlobStore) Delete(ctx context.Context, ref string) error {
	delete(m.blobs, ref)
	return nil
}

func setupRouter(t *testing.T) (*gin.Engine, *memBlobStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	blobs := newMemBlobStore()
	router := gin.New()
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))
	media.MountRoutes(router, blobs, &cfg, auth)
	return router, blobs
}

func TestCreateUploadRequiresAuth(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", strings.NewReader(`{"contentType":"image/png"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadAndDownload(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", strings.NewReader(`{"contentType":"image/png"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var handle registryattach.UploadHandle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &handle))

	req = httptest.NewRequest(http.MethodPut, "/v1/uploads/"+handle.Ref, bytes.NewReader([]byte("png-bytes")))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Authorization", "Bearer alice")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Downloads need no bearer token: media URLs are fetched by image and
	// video tags straight from message content.
	req = httptest.NewRequest(http.MethodGet, "/v1/blobs/"+handle.Ref, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())
}

func TestDownloadUnknownBlob(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/blobs/no-such-blob", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package dbstore_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/plugin/attach/dbstore"
	registrymigrate "github.com/ichat/chat-service/internal/registry/migrate"
	registrystore "github.com/ichat/chat-service/internal/registry/store"

	_ "github.com/ichat/chat-service/internal/plugin/store/gormstore"
)

var dbCounter atomic.Int64

func setupStore(t *testing.T) (*dbstore.DBStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = fmt.Sprintf("file:blob_test_%d?mode=memory&cache=shared", dbCounter.Add(1))
	cfg.MediaExternalURL = "https://chat.example.com"
	ctx := config.WithContext(context.Background(), &cfg)

	store, err := dbstore.New(ctx, &cfg)
	require.NoError(t, err)
	require.NoError(t, registrymigrate.RunAll(ctx))
	return store, ctx
}

func TestUploadLifecycle(t *testing.T) {
	store, ctx := setupStore(t)

	handle, err := store.CreateUploadHandle(ctx, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "PUT", handle.Method)
	assert.Equal(t, "https://chat.example.com/v1/uploads/"+handle.Ref, handle.URL)
	assert.True(t, handle.ExpiresAt.After(time.Now()))

	// Pending blobs cannot be resolved or retrieved.
	var notFound *registrystore.NotFoundError
	_, err = store.ResolveURL(ctx, handle.Ref, time.Hour)
	assert.ErrorAs(t, err, &notFound)
	_, _, err = store.Retrieve(ctx, handle.Ref)
	assert.ErrorAs(t, err, &notFound)

	payload := []byte("png-bytes")
	result, err := store.Store(ctx, handle.Ref, bytes.NewReader(payload), 1024, "image/png")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), result.Size)

	u, err := store.ResolveURL(ctx, handle.Ref, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/v1/blobs/"+handle.Ref, u.String())

	body, contentType, err := store.Retrieve(ctx, handle.Ref)
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "image/png", contentType)
}

func TestStoreEnforcesMaxSize(t *testing.T) {
	store, ctx := setupStore(t)

	handle, err := store.CreateUploadHandle(ctx, "video/mp4")
	require.NoError(t, err)

	var validation *registrystore.ValidationError
	_, err = store.Store(ctx, handle.Ref, bytes.NewReader(make([]byte, 100)), 10, "video/mp4")
	assert.ErrorAs(t, err, &validation)
}

func TestStoreUnknownRef(t *testing.T) {
	store, ctx := setupStore(t)

	var notFound *registrystore.NotFoundError
	_, err := store.Store(ctx, "ffffffff-ffff-ffff-ffff-ffffffffffff", bytes.NewReader([]byte("x")), 10, "")
	assert.ErrorAs(t, err, &notFound)

	// Malformed refs behave like unknown ones.
	_, err = store.Store(ctx, "not-a-ref", bytes.NewReader([]byte("x")), 10, "")
	assert.ErrorAs(t, err, &notFound)

	err = store.Delete(ctx, "ffffffff-ffff-ffff-ffff-ffffffffffff")
	assert.ErrorAs(t, err, &notFound)
}

package gormstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/model"
	"github.com/ichat/chat-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/ichat/chat-service/internal/registry/migrate"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/testutil/testpg"
)

// Smoke test against a real Postgres. The sqlite suite covers the store
// semantics; this verifies the postgres dialector, schema, and JSON
// participant serialization end to end.
func TestPostgresStoreSmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cfg := config.DefaultConfig()
	cfg.DBURL = testpg.StartPostgres(t)
	ctx := config.WithContext(context.Background(), &cfg)

	_ = gormstore.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	alice := mustUser(t, ctx, store, "alice")
	bob := mustUser(t, ctx, store, "bob")

	convID, created, err := store.CreateConversation(ctx, alice.ID, registrystore.CreateConversationRequest{
		Participants: []uuid.UUID{alice.ID, bob.ID},
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Reversed participant order maps to the same conversation.
	again, created, err := store.CreateConversation(ctx, bob.ID, registrystore.CreateConversationRequest{
		Participants: []uuid.UUID{bob.ID, alice.ID},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, convID, again)

	_, err = store.AppendMessage(ctx, registrystore.AppendMessageRequest{
		ConversationID: convID,
		SenderID:       alice.ID,
		Kind:           model.KindText,
		Content:        "hello from postgres",
	})
	require.NoError(t, err)

	details, err := store.ListMessages(ctx, bob.ID, convID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "hello from postgres", details[0].Content)
}

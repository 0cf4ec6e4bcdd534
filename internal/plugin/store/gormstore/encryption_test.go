package gormstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/model"
	"github.com/ichat/chat-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/ichat/chat-service/internal/registry/migrate"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
)

// 32 bytes hex: AES-256.
const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setupEncryptedStore(t *testing.T) (registrystore.ChatStore, context.Context, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = fmt.Sprintf("file:chat_enc_test_%d?mode=memory&cache=shared", dbCounter.Add(1))
	cfg.EncryptionKey = testKey
	ctx := config.WithContext(context.Background(), &cfg)

	_ = gormstore.ForceImport

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	require.NoError(t, registrymigrate.RunAll(ctx))
	return store, ctx, cfg.DBURL
}

func TestMessageContentEncryptedAtRest(t *testing.T) {
	store, ctx, dbURL := setupEncryptedStore(t)
	alice := mustUser(t, ctx, store, "alice")
	bob := mustUser(t, ctx, store, "bob")

	convID, _, err := store.CreateConversation(ctx, alice.ID, registrystore.CreateConversationRequest{
		Participants: []uuid.UUID{alice.ID, bob.ID},
	})
	require.NoError(t, err)

	const plaintext = "meet at noon"
	_, err = store.AppendMessage(ctx, registrystore.AppendMessageRequest{
		ConversationID: convID,
		SenderID:       alice.ID,
		Kind:           model.KindText,
		Content:        plaintext,
	})
	require.NoError(t, err)

	// Raw row must not contain the plaintext.
	raw, err := gorm.Open(sqlite.Open(dbURL), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	var message model.Message
	require.NoError(t, raw.Where("conversation_id = ?", convID).First(&message).Error)
	assert.NotContains(t, string(message.Content), plaintext)

	// The store still round-trips it.
	details, err := store.ListMessages(ctx, bob.ID, convID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, plaintext, details[0].Content)
}

func TestGroupNameEncryptedAtRest(t *testing.T) {
	store, ctx, dbURL := setupEncryptedStore(t)
	alice := mustUser(t, ctx, store, "alice")
	bob := mustUser(t, ctx, store, "bob")

	const groupName = "birthday planning"
	convID, _, err := store.CreateConversation(ctx, alice.ID, registrystore.CreateConversationRequest{
		Participants: []uuid.UUID{alice.ID, bob.ID},
		IsGroup:      true,
		GroupName:    groupName,
		AdminUserID:  &alice.ID,
	})
	require.NoError(t, err)

	raw, err := gorm.Open(sqlite.Open(dbURL), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	var conversation model.Conversation
	require.NoError(t, raw.Where("id = ?", convID).First(&conversation).Error)
	assert.NotContains(t, string(conversation.GroupName), groupName)

	summaries, err := store.ListMyConversations(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, groupName, summaries[0].GroupName)
}

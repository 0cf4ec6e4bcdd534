// Package metrics wraps a ChatStore so every operation reports its latency.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/model"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// Wrap decorates the given store with latency metrics.
func Wrap(inner registrystore.ChatStore) registrystore.ChatStore {
	return &instrumentedStore{inner: inner}
}

type instrumentedStore struct {
	inner registrystore.ChatStore
}

var _ registrystore.ChatStore = (*instrumentedStore)(nil)

func observe(operation string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func (s *instrumentedStore) EnsureUser(ctx context.Context, tokenIdentifier string, profile registrystore.UserProfile) (*model.User, error) {
	defer observe("ensure_user", time.Now())
	return s.inner.EnsureUser(ctx, tokenIdentifier, profile)
}

func (s *instrumentedStore) ResolveUser(ctx context.Context, tokenIdentifier string) (*model.User, error) {
	defer observe("resolve_user", time.Now())
	return s.inner.ResolveUser(ctx, tokenIdentifier)
}

func (s *instrumentedStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	defer observe("get_user", time.Now())
	return s.inner.GetUser(ctx, id)
}

func (s *instrumentedStore) ListUsers(ctx context.Context, exceptUserID uuid.UUID) ([]model.User, error) {
	defer observe("list_users", time.Now())
	return s.inner.ListUsers(ctx, exceptUserID)
}

func (s *instrumentedStore) SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error {
	defer observe("set_user_online", time.Now())
	return s.inner.SetUserOnline(ctx, id, online)
}

func (s *instrumentedStore) CreateConversation(ctx context.Context, callerID uuid.UUID, req registrystore.CreateConversationRequest) (uuid.UUID, bool, error) {
	defer observe("create_conversation", time.Now())
	return s.inner.CreateConversation(ctx, callerID, req)
}

func (s *instrumentedStore) ListMyConversations(ctx context.Context, userID uuid.UUID) ([]registrystore.ConversationSummary, error) {
	defer observe("list_my_conversations", time.Now())
	return s.inner.ListMyConversations(ctx, userID)
}

func (s *instrumentedStore) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return s.inner.GetConversation(ctx, id)
}

func (s *instrumentedStore) RemoveParticipant(ctx context.Context, callerID, conversationID, targetID uuid.UUID) error {
	defer observe("remove_participant", time.Now())
	return s.inner.RemoveParticipant(ctx, callerID, conversationID, targetID)
}

func (s *instrumentedStore) DeleteConversation(ctx context.Context, callerID, conversationID uuid.UUID) error {
	defer observe("delete_conversation", time.Now())
	return s.inner.DeleteConversation(ctx, callerID, conversationID)
}

func (s *instrumentedStore) AppendMessage(ctx context.Context, req registrystore.AppendMessageRequest) (*registrystore.MessageDetail, error) {
	defer observe("append_message", time.Now())
	return s.inner.AppendMessage(ctx, req)
}

func (s *instrumentedStore) ListMessages(ctx context.Context, callerID, conversationID uuid.UUID) ([]registrystore.MessageDetail, error) {
	defer observe("list_messages", time.Now())
	return s.inner.ListMessages(ctx, callerID, conversationID)
}

func (s *instrumentedStore) SoftDeleteMessage(ctx context.Context, callerID, messageID uuid.UUID) error {
	defer observe("soft_delete_message", time.Now())
	return s.inner.SoftDeleteMessage(ctx, callerID, messageID)
}

func (s *instrumentedStore) AdminListConversations(ctx context.Context) ([]registrystore.ConversationSummary, error) {
	defer observe("admin_list_conversations", time.Now())
	return s.inner.AdminListConversations(ctx)
}

func (s *instrumentedStore) AdminPurgeConversation(ctx context.Context, conversationID uuid.UUID) error {
	defer observe("admin_purge_conversation", time.Now())
	return s.inner.AdminPurgeConversation(ctx, conversationID)
}

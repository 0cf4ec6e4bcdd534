package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ichat/chat-service/internal/model"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
)

// CreateConversation creates a conversation, or returns the existing one when
// a conversation with the same participant list (or its exact reverse) already
// exists. The returned bool is true when a new row was created.
func (s *Store) CreateConversation(ctx context.Context, callerID uuid.UUID, req registrystore.CreateConversationRequest) (uuid.UUID, bool, error) {
	if len(req.Participants) == 0 {
		return uuid.Nil, false, &registrystore.ValidationError{Field: "participants", Message: "must not be empty"}
	}
	if !containsUUID(req.Participants, callerID) {
		return uuid.Nil, false, &registrystore.ValidationError{Field: "participants", Message: "must include the caller"}
	}
	if req.IsGroup && req.GroupName == "" {
		return uuid.Nil, false, &registrystore.ValidationError{Field: "groupName", Message: "required for group conversations"}
	}

	var all []model.Conversation
	if err := s.db.WithContext(ctx).Find(&all).Error; err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to list conversations: %w", err)
	}
	for _, c := range all {
		if uuidsEqual(c.Participants, req.Participants) || uuidsEqual(c.Participants, reversedUUIDs(req.Participants)) {
			return c.ID, false, nil
		}
	}

	groupName, err := s.encrypt(stringBytes(req.GroupName))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to encrypt group name: %w", err)
	}

	conversation := model.Conversation{
		ID:           uuid.New(),
		Participants: req.Participants,
		IsGroup:      req.IsGroup,
		GroupName:    groupName,
		GroupImage:   req.GroupImage,
		AdminUserID:  req.AdminUserID,
	}
	if err := s.db.WithContext(ctx).Create(&conversation).Error; err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversation.ID, true, nil
}

// ListMyConversations returns every conversation the user participates in,
// with the other party's profile attached for direct conversations and the
// most recent message attached when one exists.
func (s *Store) ListMyConversations(ctx context.Context, userID uuid.UUID) ([]registrystore.ConversationSummary, error) {
	var all []model.Conversation
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := []registrystore.ConversationSummary{}
	for _, c := range all {
		if !c.HasParticipant(userID) {
			continue
		}
		summary := registrystore.ConversationSummary{
			ID:           c.ID,
			Participants: c.Participants,
			IsGroup:      c.IsGroup,
			GroupName:    s.decryptString(c.GroupName),
			GroupImage:   c.GroupImage,
			AdminUserID:  c.AdminUserID,
			CreatedAt:    c.CreatedAt,
		}

		if !c.IsGroup {
			for _, pid := range c.Participants {
				if pid == userID {
					continue
				}
				other, err := s.GetUser(ctx, pid)
				if err != nil {
					var notFound *registrystore.NotFoundError
					if errors.As(err, &notFound) {
						break
					}
					return nil, err
				}
				summary.OtherUser = other
				break
			}
		}

		var last model.Message
		err := s.db.WithContext(ctx).
			Where("conversation_id = ?", c.ID).
			Order("created_at DESC").
			First(&last).Error
		if err == nil {
			detail := s.toMessageDetail(&last)
			summary.LastMessage = &detail
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load last message: %w", err)
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	var conversation model.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conversation, nil
}

// RemoveParticipant drops targetID from the conversation's participant list.
// Any authenticated caller may do this; only the conversation must exist.
func (s *Store) RemoveParticipant(ctx context.Context, callerID, conversationID, targetID uuid.UUID) error {
	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	remaining := make([]uuid.UUID, 0, len(conversation.Participants))
	for _, pid := range conversation.Participants {
		if pid != targetID {
			remaining = append(remaining, pid)
		}
	}
	err = s.db.WithContext(ctx).Model(conversation).Update("participants", remaining).Error
	if err != nil {
		return fmt.Errorf("failed to update participants: %w", err)
	}
	return nil
}

// DeleteConversation applies the leave/delete policy. A group member who is
// not the admin only removes themselves. The group admin, or either party of
// a direct conversation, deletes the conversation and all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, callerID, conversationID uuid.UUID) error {
	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(callerID) {
		return &registrystore.ForbiddenError{Message: "not a participant of this conversation"}
	}

	if conversation.IsGroup && (conversation.AdminUserID == nil || *conversation.AdminUserID != callerID) {
		return s.RemoveParticipant(ctx, callerID, conversationID, callerID)
	}

	return s.purgeConversation(ctx, conversation)
}

// purgeConversation deletes messages one at a time before removing the
// conversation row. A failure mid-way leaves the remaining messages and the
// conversation in place for a retry.
func (s *Store) purgeConversation(ctx context.Context, conversation *model.Conversation) error {
	var messages []model.Message
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversation.ID).Find(&messages).Error
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	for i := range messages {
		if err := s.db.WithContext(ctx).Delete(&messages[i]).Error; err != nil {
			return fmt.Errorf("failed to delete message %s: %w", messages[i].ID, err)
		}
	}
	if err := s.db.WithContext(ctx).Delete(conversation).Error; err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *Store) AdminListConversations(ctx context.Context) ([]registrystore.ConversationSummary, error) {
	var all []model.Conversation
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	summaries := make([]registrystore.ConversationSummary, 0, len(all))
	for _, c := range all {
		summaries = append(summaries, registrystore.ConversationSummary{
			ID:           c.ID,
			Participants: c.Participants,
			IsGroup:      c.IsGroup,
			GroupName:    s.decryptString(c.GroupName),
			GroupImage:   c.GroupImage,
			AdminUserID:  c.AdminUserID,
			CreatedAt:    c.CreatedAt,
		})
	}
	return summaries, nil
}

// AdminPurgeConversation removes a conversation and its messages without a
// participant check.
func (s *Store) AdminPurgeConversation(ctx context.Context, conversationID uuid.UUID) error {
	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	return s.purgeConversation(ctx, conversation)
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func uuidsEqual(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func reversedUUIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func stringBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

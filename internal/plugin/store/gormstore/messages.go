package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ichat/chat-service/internal/model"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// AppendMessage stores a message of any kind. The sender must be a
// participant of the conversation regardless of kind.
func (s *Store) AppendMessage(ctx context.Context, req registrystore.AppendMessageRequest) (*registrystore.MessageDetail, error) {
	if !req.Kind.Valid() {
		return nil, &registrystore.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown message kind %q", req.Kind)}
	}
	if req.Content == "" {
		return nil, &registrystore.ValidationError{Field: "content", Message: "must not be empty"}
	}

	conversation, err := s.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(req.SenderID) {
		return nil, &registrystore.ForbiddenError{Message: "not a participant of this conversation"}
	}

	content, err := s.encrypt([]byte(req.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	message := model.Message{
		ID:             uuid.New(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Kind:           req.Kind,
		Content:        content,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if security.MessagesSentTotal != nil {
		security.MessagesSentTotal.WithLabelValues(string(req.Kind)).Inc()
	}

	detail := s.toMessageDetail(&message)
	return &detail, nil
}

// ListMessages returns a conversation's messages oldest first, with each
// sender's profile attached. Senders are resolved at most once per call.
func (s *Store) ListMessages(ctx context.Context, callerID, conversationID uuid.UUID) ([]registrystore.MessageDetail, error) {
	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(callerID) {
		return nil, &registrystore.ForbiddenError{Message: "not a participant of this conversation"}
	}

	var messages []model.Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	senders := map[uuid.UUID]*model.User{}
	details := make([]registrystore.MessageDetail, 0, len(messages))
	for i := range messages {
		detail := s.toMessageDetail(&messages[i])
		sender, ok := senders[messages[i].SenderID]
		if !ok {
			sender, err = s.GetUser(ctx, messages[i].SenderID)
			if err != nil {
				var notFound *registrystore.NotFoundError
				if !errors.As(err, &notFound) {
					return nil, err
				}
				sender = nil
			}
			senders[messages[i].SenderID] = sender
		}
		detail.Sender = sender
		details = append(details, detail)
	}
	return details, nil
}

// SoftDeleteMessage redacts a message. Only its sender may delete it, and the
// sender must still be a participant of the conversation. The original
// content is overwritten and cannot be recovered.
func (s *Store) SoftDeleteMessage(ctx context.Context, callerID, messageID uuid.UUID) error {
	var message model.Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}

	conversation, err := s.GetConversation(ctx, message.ConversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(callerID) {
		return &registrystore.ForbiddenError{Message: "not a participant of this conversation"}
	}
	if message.SenderID != callerID {
		return &registrystore.ForbiddenError{Message: "only the sender can delete a message"}
	}

	placeholder, err := s.encrypt([]byte(model.DeletedMessagePlaceholder))
	if err != nil {
		return fmt.Errorf("failed to encrypt placeholder: %w", err)
	}
	updates := map[string]any{
		"is_deleted": true,
		"deleted_by": callerID,
		"content":    placeholder,
	}
	if err := s.db.WithContext(ctx).Model(&message).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *Store) toMessageDetail(m *model.Message) registrystore.MessageDetail {
	return registrystore.MessageDetail{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Kind:           m.Kind,
		Content:        s.decryptString(m.Content),
		IsDeleted:      m.IsDeleted,
		DeletedBy:      m.DeletedBy,
		CreatedAt:      m.CreatedAt,
	}
}

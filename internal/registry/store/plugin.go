package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/model"
)

// UserProfile carries the mutable profile fields synced from the identity provider.
type UserProfile struct {
	Name  *string `json:"name,omitempty"`
	Email string  `json:"email"`
	Image *string `json:"image,omitempty"`
}

// CreateConversationRequest is the input for creating a conversation.
// GroupImage is an already-resolved media URL (blob resolution happens in the
// route layer, against the blob store).
type CreateConversationRequest struct {
	Participants []uuid.UUID
	IsGroup      bool
	GroupName    string
	GroupImage   *string
	AdminUserID  *uuid.UUID
}

/// ConversationSummary is a conversation as returned by list operations:
// the row itself plus display details resolved per caller.
type ConversationSummary struct {
	ID           uuid.UUID      `json:"id"`
	Participants []uuid.UUID    `json:"participants"`
	IsGroup      bool           `json:"isGroup"`
	GroupName    string         `json:"groupName,omitempty"`
	GroupImage   *string        `json:"groupImage,omitempty"`
	AdminUserID  *uuid.UUID     `json:"admin,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	OtherUser    *model.User    `json:"otherUser,omitempty"`
	LastMessage  *MessageDetail `json:"lastMessage,omitempty"`
}

// MessageDetail is a message with its content decrypted and, when resolved,
// the sender profile attached.
type MessageDetail struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID uuid.UUID         `json:"conversationId"`
	SenderID       uuid.UUID         `json:"senderId"`
	Kind           model.MessageKind `json:"kind"`
	Content        string            `json:"content"`
	IsDeleted      bool              `json:"isDeleted"`
	DeletedBy      *uuid.UUID        `json:"deletedBy,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	Sender         *model.User       `json:"sender,omitempty"`
}

// AppendMessageRequest is the input for appending a message to a conversation.
type AppendMessageRequest struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Kind           model.MessageKind
	Content        string
}

// ChatStore defines the primary data access interface for the chat service.
//
// All operations take the resolved caller's user id where an authorization
// predicate applies; resolving the bearer token to that id is the route
// layer's job (see security and the users route).
type ChatStore interface {
	// Users
	// EnsureUser creates the User row for tokenIdentifier on first access and
	// updates the profile fields on subsequent calls.
	EnsureUser(ctx context.Context, tokenIdentifier string, profile UserProfile) (*model.User, error)
	// ResolveUser maps an authenticated token identifier to its User row.
	// Returns NotFoundError when no row exists yet.
	ResolveUser(ctx context.Context, tokenIdentifier string) (*model.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
	// ListUsers returns every user except the caller, for the new-chat dialog.
	ListUsers(ctx context.Context, exceptUserID uuid.UUID) ([]model.User, error)
	SetUserOnline(ctx context.Context, userID uuid.UUID, online bool) error

	// Conversations
	// CreateConversation is idempotent by participant list: an existing
	// conversation whose stored participants equal the requested list in
	// either stored or fully reversed order is returned instead of creating
	// a duplicate. The bool result is true when a new row was inserted.
	CreateConversation(ctx context.Context, callerID uuid.UUID, req CreateConversationRequest) (uuid.UUID, bool, error)
	ListMyConversations(ctx context.Context, callerID uuid.UUID) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error)
	// RemoveParticipant removes userID from the conversation's participant
	// list. Deliberately requires no relationship between the caller and the
	// conversation beyond authentication.
	RemoveParticipant(ctx context.Context, callerID, conversationID, userID uuid.UUID) error
	// DeleteConversation applies the branching policy: group+admin and direct
	// chats cascade-delete messages then the conversation; a non-admin group
	// member is only removed from the participant list.
	DeleteConversation(ctx context.Context, callerID uuid.UUID, conversationID uuid.UUID) error

	// Messages
	// AppendMessage requires req.SenderID to be a participant of the
	// conversation, for every message kind.
	AppendMessage(ctx context.Context, req AppendMessageRequest) (*MessageDetail, error)
	// ListMessages returns the conversation's messages in insertion order with
	// sender profiles attached; each distinct sender is looked up once per call.
	// The caller must be a participant.
	ListMessages(ctx context.Context, callerID, conversationID uuid.UUID) ([]MessageDetail, error)
	// SoftDeleteMessage marks the message deleted, records the deleter, and
	// overwrites the content with model.DeletedMessagePlaceholder.
	SoftDeleteMessage(ctx context.Context, callerID uuid.UUID, messageID uuid.UUID) error

	// Admin
	AdminListConversations(ctx context.Context) ([]ConversationSummary, error)
	AdminPurgeConversation(ctx context.Context, conversationID uuid.UUID) error
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}

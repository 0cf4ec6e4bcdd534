package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind represents the payload type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindAudio MessageKind = "audio"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio:
		return true
	}
	return false
}

// DeletedMessagePlaceholder replaces the content of a soft-deleted message.
// Original content is not recoverable after the swap.
const DeletedMessagePlaceholder = "This message is deleted"

// User is a chat participant, created on first authenticated profile sync.
// TokenIdentifier is the opaque subject issued by the external identity provider.
type User struct {
	ID              uuid.UUID `json:"id"                gorm:"primaryKey;type:uuid"`
	TokenIdentifier string    `json:"-"                 gorm:"uniqueIndex;not null"`
	Name            *string   `json:"name,omitempty"`
	Email           string    `json:"email"             gorm:"not null"`
	Image           *string   `json:"image,omitempty"`
	IsOnline        bool      `json:"isOnline"          gorm:"not null;default:false"`
	CreatedAt       time.Time `json:"createdAt"         gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Conversation is a direct chat (exactly two participants, no admin) or a
// group chat (an admin who must stay a participant for the group to remain
// administrable). Participants keep their insertion order; duplicate detection
// on create compares the stored order and its exact reverse.
type Conversation struct {
	ID           uuid.UUID   `json:"id"                   gorm:"primaryKey;type:uuid"`
	Participants []uuid.UUID `json:"participants"         gorm:"serializer:json;not null"`
	IsGroup      bool        `json:"isGroup"              gorm:"not null;default:false"`
	GroupName    []byte      `json:"-"                    gorm:"type:bytea"` // encrypted
	GroupImage   *string     `json:"groupImage,omitempty"`
	AdminUserID  *uuid.UUID  `json:"admin,omitempty"      gorm:"type:uuid"`
	CreatedAt    time.Time   `json:"createdAt"            gorm:"not null"`
}

func (Conversation) TableName() string { return "conversations" }

// HasParticipant reports whether userID is in the participant list.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Message belongs to exactly one conversation. Content holds either text or a
// resolved media URL, encrypted at rest when an encryption key is configured.
type Message struct {
	ID             uuid.UUID   `json:"id"                  gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID   `json:"conversationId"      gorm:"not null;type:uuid;index"`
	SenderID       uuid.UUID   `json:"senderId"            gorm:"not null;type:uuid"`
	Kind           MessageKind `json:"kind"                gorm:"not null"`
	Content        []byte      `json:"-"                   gorm:"type:bytea;not null"` // encrypted
	IsDeleted      bool        `json:"isDeleted"           gorm:"not null;default:false"`
	DeletedBy      *uuid.UUID  `json:"deletedBy,omitempty" gorm:"type:uuid"`
	CreatedAt      time.Time   `json:"createdAt"           gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// Blob holds uploaded media bytes for the database-backed blob store.
// Rows start in "pending" state when the upload handle is issued and flip to
// "ready" once the bytes have been received.
type Blob struct {
	Ref         uuid.UUID `json:"ref"         gorm:"primaryKey;type:uuid"`
	ContentType string    `json:"contentType" gorm:"not null"`
	Data        []byte    `json:"-"           gorm:"type:bytea"`
	Size        int64     `json:"size"        gorm:"not null;default:0"`
	Status      string    `json:"status"      gorm:"not null;default:'pending'"`
	CreatedAt   time.Time `json:"createdAt"   gorm:"not null"`
}

func (Blob) TableName() string { return "blobs" }

const (
	BlobStatusPending = "pending"
	BlobStatusReady   = "ready"
)

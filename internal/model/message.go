package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message is an append-only chat message. created_at (assigned at
// persistence time, never by the client) is the sole ordering key;
// edited_at/deleted_at are reserved markers with no behavior attached.
type Message struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `json:"conversation" gorm:"type:uuid;index:idx_msg_conv_created;not null"`
	SenderID       uuid.UUID `json:"sender" gorm:"type:uuid;index;not null"`
	Text           string    `json:"text" gorm:"type:text;not null"`

	// Opaque payloads, stored and returned verbatim.
	Attachments datatypes.JSON `json:"attachments" gorm:"default:'[]'"`
	Metadata    datatypes.JSON `json:"metadata" gorm:"default:'{}'"`

	ReplyToID *uuid.UUID `json:"reply_to" gorm:"type:uuid"`
	EditedAt  *time.Time `json:"edited_at"`
	DeletedAt *time.Time `json:"deleted_at"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_msg_conv_created"`

	// Relations
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	Sender       User         `json:"-" gorm:"foreignKey:SenderID;constraint:OnDelete:RESTRICT"`
	ReplyTo      *Message     `json:"-" gorm:"foreignKey:ReplyToID;constraint:OnDelete:SET NULL"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Attachments == nil {
		m.Attachments = datatypes.JSON([]byte("[]"))
	}
	if m.Metadata == nil {
		m.Metadata = datatypes.JSON([]byte("{}"))
	}
	return nil
}

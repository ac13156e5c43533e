package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationKind defines the conversation flavor. Only direct (1:1)
// conversations exist today; GROUP is reserved.
type ConversationKind string

const (
	ConversationKindDirect ConversationKind = "DIRECT"
	ConversationKindGroup  ConversationKind = "GROUP"
)

// Conversation is the aggregate root: it owns its participants and
// messages (both cascade on delete). The unique direct_key guarantees
// at most one direct conversation per unordered pair of users.
type Conversation struct {
	ID        uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	Kind      ConversationKind `json:"kind" gorm:"type:varchar(10);default:'DIRECT';not null"`
	DirectKey string           `json:"-" gorm:"uniqueIndex;size:255;not null"`

	CreatedByID   uuid.UUID  `json:"created_by" gorm:"type:uuid;not null"`
	LastMessageAt *time.Time `json:"last_message_at" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	CreatedBy    User                      `json:"-" gorm:"foreignKey:CreatedByID;constraint:OnDelete:RESTRICT"`
	Participants []ConversationParticipant `json:"participants,omitempty" gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

// MakeDirectKey derives the canonical order-independent key for a pair
// of users: the two IDs sorted lexicographically, joined with ":".
func MakeDirectKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return strings.Join([]string{x, y}, ":")
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Kind == "" {
		c.Kind = ConversationKindDirect
	}
	return nil
}

// ConversationParticipant is one user's membership in a conversation.
// The (conversation, user) pair is unique; last_read_message_id is a
// weak pointer into the conversation's own messages and is cleared,
// not cascaded, when that message disappears.
type ConversationParticipant struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `json:"conversation_id" gorm:"type:uuid;uniqueIndex:idx_conv_user;not null"`
	UserID         uuid.UUID `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_conv_user;not null"`
	JoinedAt       time.Time `json:"joined_at" gorm:"autoCreateTime"`

	LastReadMessageID *uuid.UUID `json:"last_read_message_id" gorm:"type:uuid"`
	LastReadAt        *time.Time `json:"last_read_at"`

	// Relations
	User            User         `json:"user" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Conversation    Conversation `json:"-" gorm:"foreignKey:ConversationID"`
	LastReadMessage *Message     `json:"-" gorm:"foreignKey:LastReadMessageID;constraint:OnDelete:SET NULL"`
}

func (p *ConversationParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

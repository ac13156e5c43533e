package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ========== Requests ==========

type DirectCreateRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

type SendMessageRequest struct {
	Text        string         `json:"text"`
	Attachments datatypes.JSON `json:"attachments,omitempty"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	ReplyToID   *uuid.UUID     `json:"reply_to,omitempty"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id" binding:"required"`
}

type MessageListQuery struct {
	Before string `form:"before"`
	After  string `form:"after"`
	Limit  int    `form:"limit"`
}

// ========== Responses ==========

// MessagePayload is the wire form of a message: primitive types only,
// safe to hand to the realtime channel and REST alike.
type MessagePayload struct {
	ID           string         `json:"id"`
	Conversation string         `json:"conversation"`
	Sender       string         `json:"sender"`
	Text         string         `json:"text"`
	Attachments  datatypes.JSON `json:"attachments,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	ReplyTo      *string        `json:"reply_to,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func NewMessagePayload(m *Message) MessagePayload {
	p := MessagePayload{
		ID:           m.ID.String(),
		Conversation: m.ConversationID.String(),
		Sender:       m.SenderID.String(),
		Text:         m.Text,
		Attachments:  m.Attachments,
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt,
	}
	if m.ReplyToID != nil {
		s := m.ReplyToID.String()
		p.ReplyTo = &s
	}
	return p
}

// ParticipantInfo identifies the peer in a direct conversation.
type ParticipantInfo struct {
	ID    uuid.UUID `json:"id"`
	NetID string    `json:"netid"`
	Email string    `json:"email"`
}

// ConversationListItem is one inbox row.
type ConversationListItem struct {
	ID               uuid.UUID        `json:"id"`
	Kind             ConversationKind `json:"kind"`
	LastMessageAt    *time.Time       `json:"last_message_at"`
	LastMessage      *MessagePayload  `json:"last_message"`
	UnreadCount      int64            `json:"unread_count"`
	OtherParticipant *ParticipantInfo `json:"other_participant"`
}

// ConversationDetail is the single-conversation payload.
type ConversationDetail struct {
	ID            uuid.UUID        `json:"id"`
	Kind          ConversationKind `json:"kind"`
	LastMessageAt *time.Time       `json:"last_message_at"`
	Participants  []uuid.UUID      `json:"participants"`
}

// MessagePage is one page of history plus the cursor for the next
// older page (nil when the page is empty).
type MessagePage struct {
	Results    []MessagePayload `json:"results"`
	NextBefore *string          `json:"next_before"`
}

type MarkReadResponse struct {
	OK              bool   `json:"ok"`
	LastReadMessage string `json:"last_read_message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

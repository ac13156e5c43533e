package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"gorm.io/gorm"
)

// MessageRepository handles database operations for Message
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append inserts the message and bumps the conversation's
// last_message_at to the message's creation time in one transaction.
// The timestamp is assigned here, never taken from the client.
func (r *MessageRepository) Append(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("last_message_at", msg.CreatedAt).Error
	})
}

// FindInConversation finds a message by ID scoped to a conversation.
// A message ID from another conversation is indistinguishable from a
// missing one.
func (r *MessageRepository) FindInConversation(ctx context.Context, msgID, convID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Where("id = ? AND conversation_id = ?", msgID, convID).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// List returns one page of a conversation's history. Paging backward
// from before returns newest-first; paging forward from after returns
// oldest-first. When both cursors are given, before wins. Ties on
// created_at are broken by message ID so a page's order is stable; the
// cursors themselves compare created_at alone, so rows sharing the
// boundary timestamp of a full page sit on the cursor's excluded side
// and are not revisited by the next page.
func (r *MessageRepository) List(ctx context.Context, convID uuid.UUID, before, after *time.Time, limit int) ([]model.Message, error) {
	messages := []model.Message{}
	query := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Limit(limit)

	switch {
	case before != nil:
		query = query.Where("created_at < ?", *before).Order("created_at DESC, id DESC")
	case after != nil:
		query = query.Where("created_at > ?", *after).Order("created_at ASC, id ASC")
	default:
		query = query.Order("created_at DESC, id DESC")
	}

	err := query.Find(&messages).Error
	return messages, err
}

// LastMessage returns the most recent message in a conversation, or
// nil when the conversation has none.
func (r *MessageRepository) LastMessage(ctx context.Context, convID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// CountUnread counts the messages newer than the participant's read
// cursor. A nil cursor means the participant has never read anything,
// so every message counts.
func (r *MessageRepository) CountUnread(ctx context.Context, convID uuid.UUID, readCursor *time.Time) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ?", convID)
	if readCursor != nil {
		query = query.Where("created_at > ?", *readCursor)
	}
	err := query.Count(&count).Error
	return count, err
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository handles database operations for Conversation
// and ConversationParticipant
type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// lockForUpdate adds a row lock on dialects that support it. The
// sqlite test database has no row locks; there the unique index on
// direct_key is still the concurrency backstop.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// GetOrCreateDirect atomically finds or creates the direct conversation
// for the unordered (userID, peerID) pair and makes sure both
// participant rows exist. The insert is conflict-tolerant (ON CONFLICT
// DO NOTHING), so losing a creation race never aborts the transaction:
// the loser sees zero rows affected and re-reads the winner's row.
// The returned flag reports whether the conversation was newly created.
func (r *ConversationRepository) GetOrCreateDirect(ctx context.Context, userID, peerID uuid.UUID) (*model.Conversation, bool, error) {
	key := model.MakeDirectKey(userID, peerID)

	var conv model.Conversation
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := lockForUpdate(tx).Where("direct_key = ?", key).First(&conv).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			candidate := model.Conversation{
				Kind:        model.ConversationKindDirect,
				DirectKey:   key,
				CreatedByID: userID,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "direct_key"}},
				DoNothing: true,
			}).Create(&candidate)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				conv = candidate
				created = true
			} else {
				// A concurrent caller won; their row is the conversation.
				if err := lockForUpdate(tx).Where("direct_key = ?", key).First(&conv).Error; err != nil {
					return err
				}
			}
		case err != nil:
			return err
		}

		return r.ensureParticipants(tx, conv.ID, userID, peerID)
	})
	if err != nil {
		return nil, false, err
	}
	return &conv, created, nil
}

// ensureParticipants idempotently inserts any missing participant rows.
func (r *ConversationRepository) ensureParticipants(tx *gorm.DB, convID uuid.UUID, userIDs ...uuid.UUID) error {
	var have []uuid.UUID
	if err := tx.Model(&model.ConversationParticipant{}).
		Where("conversation_id = ?", convID).
		Pluck("user_id", &have).Error; err != nil {
		return err
	}

	present := make(map[uuid.UUID]bool, len(have))
	for _, id := range have {
		present[id] = true
	}

	for _, id := range userIDs {
		if present[id] {
			continue
		}
		p := model.ConversationParticipant{ConversationID: convID, UserID: id}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
			return err
		}
		present[id] = true
	}
	return nil
}

// FindByID finds a conversation by ID with participants
func (r *ConversationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// IsMember reports whether the user participates in the conversation.
// Any unknown conversation or user simply yields false.
func (r *ConversationRepository) IsMember(ctx context.Context, convID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	return count > 0, err
}

// ListForUser returns the user's conversations with participants
// preloaded, most recently active first, never-active last.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Preload("Participants.User").
		Order("conversations.last_message_at DESC NULLS LAST").
		Find(&conversations).Error
	return conversations, err
}

// GetParticipant returns the user's participant row for a conversation
func (r *ConversationRepository) GetParticipant(ctx context.Context, convID, userID uuid.UUID) (*model.ConversationParticipant, error) {
	var p model.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AdvanceReadCursor moves the participant's read cursor to msg, but
// only forward: the update applies when the participant has no cursor
// yet or msg was created strictly after the current cursor message.
// Older or equal cursors are a successful no-op. Returns the resulting
// cursor message ID.
func (r *ConversationRepository) AdvanceReadCursor(ctx context.Context, convID, userID uuid.UUID, msg *model.Message) (uuid.UUID, error) {
	var cursorID uuid.UUID

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var part model.ConversationParticipant
		if err := lockForUpdate(tx).
			Where("conversation_id = ? AND user_id = ?", convID, userID).
			First(&part).Error; err != nil {
			return err
		}

		advance := part.LastReadMessageID == nil
		if !advance {
			var current model.Message
			err := tx.Select("created_at").Where("id = ?", *part.LastReadMessageID).First(&current).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				// Cursor message vanished; treat as no cursor.
				advance = true
			case err != nil:
				return err
			default:
				advance = msg.CreatedAt.After(current.CreatedAt)
			}
		}

		if !advance {
			cursorID = *part.LastReadMessageID
			return nil
		}

		now := time.Now()
		if err := tx.Model(&part).Updates(map[string]interface{}{
			"last_read_message_id": msg.ID,
			"last_read_at":         now,
		}).Error; err != nil {
			return err
		}
		cursorID = msg.ID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return cursorID, nil
}

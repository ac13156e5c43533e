package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/iridiumtao/NYU-Marketplace/internal/repository"
	"github.com/iridiumtao/NYU-Marketplace/pkg/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Membership failures carry PERMISSION_DENIED internally, but with the
// same message a missing conversation would have: the handler renders
// both as an identical not-found, so callers never learn whether a
// conversation they cannot see exists.
var errConversationNotFound = apperr.Forbidden("conversation not found")

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ChatService is the chat business layer. Every operation takes the
// acting user explicitly; nothing is read from ambient request state.
type ChatService struct {
	convRepo *repository.ConversationRepository
	msgRepo  *repository.MessageRepository
	userRepo *repository.UserRepository
}

func NewChatService(
	convRepo *repository.ConversationRepository,
	msgRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
) *ChatService {
	return &ChatService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		userRepo: userRepo,
	}
}

// IsMember is the membership guard: a single existence check, false
// for unknown conversations and unknown users alike.
func (s *ChatService) IsMember(ctx context.Context, convID, userID uuid.UUID) bool {
	ok, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil {
		zap.L().Error("membership check failed",
			zap.String("conversation", convID.String()),
			zap.String("user", userID.String()),
			zap.Error(err))
		return false
	}
	return ok
}

// GetOrCreateDirect finds or creates the direct conversation between
// the caller and peer. Safe under concurrent callers racing on the
// same pair; both converge on one row. The flag reports creation and
// only affects the HTTP status the handler picks.
func (s *ChatService) GetOrCreateDirect(ctx context.Context, userID, peerID uuid.UUID) (*model.ConversationDetail, bool, error) {
	if userID == peerID {
		return nil, false, apperr.InvalidArg("cannot start a chat with yourself")
	}

	exists, err := s.userRepo.Exists(ctx, peerID)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "peer lookup failed", err)
	}
	if !exists {
		return nil, false, apperr.NotFound("peer not found")
	}

	conv, created, err := s.convRepo.GetOrCreateDirect(ctx, userID, peerID)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "could not open conversation", err)
	}

	detail, err := s.detail(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return detail, created, nil
}

// GetConversation returns the detail payload for a member.
func (s *ChatService) GetConversation(ctx context.Context, convID, userID uuid.UUID) (*model.ConversationDetail, error) {
	if !s.IsMember(ctx, convID, userID) {
		return nil, errConversationNotFound
	}
	return s.detail(ctx, convID)
}

func (s *ChatService) detail(ctx context.Context, convID uuid.UUID) (*model.ConversationDetail, error) {
	conv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errConversationNotFound
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "conversation lookup failed", err)
	}

	participants := make([]uuid.UUID, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		participants = append(participants, p.UserID)
	}

	return &model.ConversationDetail{
		ID:            conv.ID,
		Kind:          conv.Kind,
		LastMessageAt: conv.LastMessageAt,
		Participants:  participants,
	}, nil
}

// ListConversations returns the caller's inbox: every conversation
// they participate in, annotated with the latest message, the unread
// count, and the peer's identity, most recently active first.
func (s *ChatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]model.ConversationListItem, error) {
	conversations, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "could not list conversations", err)
	}

	items := make([]model.ConversationListItem, 0, len(conversations))
	for i := range conversations {
		conv := &conversations[i]

		item := model.ConversationListItem{
			ID:            conv.ID,
			Kind:          conv.Kind,
			LastMessageAt: conv.LastMessageAt,
		}

		last, err := s.msgRepo.LastMessage(ctx, conv.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "could not load last message", err)
		}
		if last != nil {
			payload := model.NewMessagePayload(last)
			item.LastMessage = &payload
		}

		unread, err := s.unreadCount(ctx, conv, userID)
		if err != nil {
			return nil, err
		}
		item.UnreadCount = unread

		for _, p := range conv.Participants {
			if p.UserID != userID {
				item.OtherParticipant = &model.ParticipantInfo{
					ID:    p.User.ID,
					NetID: p.User.NetID,
					Email: p.User.Email,
				}
				break
			}
		}

		items = append(items, item)
	}
	return items, nil
}

// unreadCount counts messages newer than the caller's read cursor, or
// every message when nothing was ever read.
func (s *ChatService) unreadCount(ctx context.Context, conv *model.Conversation, userID uuid.UUID) (int64, error) {
	var cursor *time.Time
	for _, p := range conv.Participants {
		if p.UserID != userID || p.LastReadMessageID == nil {
			continue
		}
		readMsg, err := s.msgRepo.FindInConversation(ctx, *p.LastReadMessageID, conv.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.Wrap(apperr.CodeInternal, "could not resolve read cursor", err)
		}
		if readMsg != nil {
			cursor = &readMsg.CreatedAt
		}
	}

	count, err := s.msgRepo.CountUnread(ctx, conv.ID, cursor)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "could not count unread messages", err)
	}
	return count, nil
}

// SendMessage validates and appends a message on behalf of a member.
// The same path serves the REST send endpoint and the realtime
// protocol, so both enforce identical semantics.
func (s *ChatService) SendMessage(ctx context.Context, convID, senderID uuid.UUID, req model.SendMessageRequest) (*model.Message, error) {
	if !s.IsMember(ctx, convID, senderID) {
		return nil, errConversationNotFound
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apperr.InvalidArg("message text cannot be empty")
	}

	if req.ReplyToID != nil {
		if _, err := s.msgRepo.FindInConversation(ctx, *req.ReplyToID, convID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.InvalidArg("reply_to message is not in this conversation")
			}
			return nil, apperr.Wrap(apperr.CodeInternal, "reply_to lookup failed", err)
		}
	}

	msg := &model.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Text:           text,
		Attachments:    req.Attachments,
		Metadata:       req.Metadata,
		ReplyToID:      req.ReplyToID,
	}
	if err := s.msgRepo.Append(ctx, msg); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "could not send message", err)
	}
	return msg, nil
}

// GetMessages returns one page of history for a member. Exactly one
// cursor is honored; before takes precedence over after.
func (s *ChatService) GetMessages(ctx context.Context, convID, userID uuid.UUID, before, after *time.Time, limit int) (*model.MessagePage, error) {
	if !s.IsMember(ctx, convID, userID) {
		return nil, errConversationNotFound
	}

	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	messages, err := s.msgRepo.List(ctx, convID, before, after, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "could not list messages", err)
	}

	page := &model.MessagePage{Results: make([]model.MessagePayload, 0, len(messages))}
	for i := range messages {
		page.Results = append(page.Results, model.NewMessagePayload(&messages[i]))
	}

	if len(messages) > 0 {
		oldest := messages[0].CreatedAt
		for _, m := range messages[1:] {
			if m.CreatedAt.Before(oldest) {
				oldest = m.CreatedAt
			}
		}
		cursor := oldest.Format(time.RFC3339Nano)
		page.NextBefore = &cursor
	}
	return page, nil
}

// MarkRead advances the caller's read cursor to messageID, monotonic
// and idempotent: older or already-read messages change nothing and
// still succeed. Returns the resulting cursor message ID.
func (s *ChatService) MarkRead(ctx context.Context, convID, userID, messageID uuid.UUID) (uuid.UUID, error) {
	if !s.IsMember(ctx, convID, userID) {
		return uuid.Nil, errConversationNotFound
	}

	msg, err := s.msgRepo.FindInConversation(ctx, messageID, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, apperr.NotFound("message not found in this conversation")
		}
		return uuid.Nil, apperr.Wrap(apperr.CodeInternal, "message lookup failed", err)
	}

	// Membership was just established, so the participant row exists;
	// its absence would be a data-integrity bug, not a user error.
	cursor, err := s.convRepo.AdvanceReadCursor(ctx, convID, userID, msg)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.CodeInternal, "could not advance read cursor", err)
	}
	return cursor, nil
}

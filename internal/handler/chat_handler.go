package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/iridiumtao/NYU-Marketplace/internal/service"
	"github.com/iridiumtao/NYU-Marketplace/internal/ws"
	"github.com/iridiumtao/NYU-Marketplace/pkg/apperr"
)

// ChatHandler handles the chat REST endpoints. The realtime hub is
// shared with the WS handler so REST sends fan out the same way.
type ChatHandler struct {
	chatService *service.ChatService
	hub         *ws.Hub
}

func NewChatHandler(chatService *service.ChatService, hub *ws.Hub) *ChatHandler {
	return &ChatHandler{chatService: chatService, hub: hub}
}

// writeError maps the application error taxonomy onto HTTP.
func writeError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperr.CodeInvalidArgument:
		status = http.StatusBadRequest
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodePermissionDenied:
		// Non-members must not learn that a conversation exists, so a
		// denial renders exactly like a missing resource, code included.
		status = http.StatusNotFound
		code = apperr.CodeNotFound
	case apperr.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case apperr.CodeAlreadyExists:
		status = http.StatusConflict
	}
	c.JSON(status, model.ErrorResponse{Error: string(code), Message: apperr.MessageOf(err)})
}

func currentUserID(c *gin.Context) uuid.UUID {
	return c.MustGet("user_id").(uuid.UUID)
}

// GetOrCreateDirect opens (or returns) the direct conversation with
// peer_id. 201 when the conversation was created, 200 when it already
// existed; the payload is identical either way.
func (h *ChatHandler) GetOrCreateDirect(c *gin.Context) {
	var req model.DirectCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.InvalidArg("peer_id is required"))
		return
	}

	peerID, err := uuid.Parse(req.PeerID)
	if err != nil {
		writeError(c, apperr.InvalidArg("peer_id must be a valid user ID"))
		return
	}

	detail, created, err := h.chatService.GetOrCreateDirect(c.Request.Context(), currentUserID(c), peerID)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, detail)
}

// GetConversations lists the caller's conversations with the latest
// message and unread count.
func (h *ChatHandler) GetConversations(c *gin.Context) {
	items, err := h.chatService.ListConversations(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// GetConversation returns one conversation with its participant list.
func (h *ChatHandler) GetConversation(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperr.NotFound("conversation not found"))
		return
	}

	detail, err := h.chatService.GetConversation(c.Request.Context(), convID, currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetMessages returns paginated history. Query params: before, after
// (RFC 3339 timestamps), limit. before wins when both cursors are
// given; the response's next_before feeds the next older page.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperr.NotFound("conversation not found"))
		return
	}

	var query model.MessageListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeError(c, apperr.InvalidArg("invalid pagination params"))
		return
	}

	before, err := parseCursor(query.Before)
	if err != nil {
		writeError(c, apperr.InvalidArg("before must be an RFC 3339 timestamp"))
		return
	}
	after, err := parseCursor(query.After)
	if err != nil {
		writeError(c, apperr.InvalidArg("after must be an RFC 3339 timestamp"))
		return
	}

	page, err := h.chatService.GetMessages(c.Request.Context(), convID, currentUserID(c), before, after, query.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func parseCursor(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SendMessage appends a message over REST (the non-realtime fallback)
// and fans it out to every live session of the conversation.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperr.NotFound("conversation not found"))
		return
	}

	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.InvalidArg("invalid request body"))
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), convID, currentUserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	h.hub.Broadcast(c.Request.Context(), convID, model.NewMessageEvent(msg))

	c.JSON(http.StatusCreated, model.NewMessagePayload(msg))
}

// MarkAsRead advances the caller's read cursor to message_id.
// Re-marking the same or an older message is a successful no-op.
func (h *ChatHandler) MarkAsRead(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperr.NotFound("conversation not found"))
		return
	}

	var req model.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.InvalidArg("message_id is required"))
		return
	}

	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeError(c, apperr.InvalidArg("message_id must be a valid message ID"))
		return
	}

	userID := currentUserID(c)
	cursor, err := h.chatService.MarkRead(c.Request.Context(), convID, userID, messageID)
	if err != nil {
		writeError(c, err)
		return
	}

	h.hub.Broadcast(c.Request.Context(), convID, &model.ServerEvent{
		Type: model.EventReadUpdated,
		Read: &model.ReadCursorEvent{
			Conversation: convID.String(),
			User:         userID.String(),
			MessageID:    cursor.String(),
		},
	})

	c.JSON(http.StatusOK, model.MarkReadResponse{OK: true, LastReadMessage: cursor.String()})
}

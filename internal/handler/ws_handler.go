package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/iridiumtao/NYU-Marketplace/internal/service"
	"github.com/iridiumtao/NYU-Marketplace/internal/ws"
	"github.com/iridiumtao/NYU-Marketplace/pkg/auth"
	"go.uber.org/zap"
)

// Close codes for rejected handshakes; clients distinguish "log in"
// from "not your conversation" by code alone, with no body.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer in front
	},
}

// WSHandler runs the realtime chat session protocol. One connection is
// scoped to one conversation; the lifecycle is connect, authorize,
// join the hub group, then relay events until the transport closes.
type WSHandler struct {
	hub         *ws.Hub
	chatService *service.ChatService
	jwtManager  *auth.JWTManager
}

func NewWSHandler(hub *ws.Hub, chatService *service.ChatService, jwtManager *auth.JWTManager) *WSHandler {
	return &WSHandler{
		hub:         hub,
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

// HandleConversation upgrades GET /ws/conversations/:id?token=<jwt>.
// The token travels as a query parameter because browsers cannot set
// an Authorization header on a WebSocket handshake.
//
// Rejections happen after the upgrade so the client receives a close
// code instead of a bare HTTP error: 4001 when no verified identity is
// attached, 4003 when the user is not a participant.
func (h *WSHandler) HandleConversation(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	claims, err := h.jwtManager.ValidateToken(strings.TrimSpace(c.Query("token")))
	if err != nil {
		closeWithCode(conn, CloseUnauthenticated, "unauthenticated")
		return
	}

	convID, err := uuid.Parse(c.Param("id"))
	if err != nil || !h.chatService.IsMember(c.Request.Context(), convID, claims.UserID) {
		// Unknown conversation and non-membership close identically.
		closeWithCode(conn, CloseForbidden, "forbidden")
		return
	}

	client := ws.NewClient(h.hub, conn, claims.UserID, convID)
	h.hub.Join(convID, client)

	zap.L().Info("chat session joined",
		zap.String("conversation", convID.String()),
		zap.String("user", claims.UserID.String()))

	go client.WritePump()
	go client.ReadPump(h.handleEvent)
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// handleEvent dispatches one inbound event. Unknown event types are a
// deliberate no-op: the session stays open so old servers never kill
// newer clients.
func (h *WSHandler) handleEvent(client *ws.Client, event model.ClientEvent) {
	switch ev := event.(type) {
	case model.SendMessageEvent:
		h.handleSend(client, ev)
	case model.ReadUpdateEvent:
		h.handleReadUpdate(client, ev)
	case model.UnknownEvent:
		zap.L().Debug("ignoring unknown event type", zap.String("type", ev.Type))
	}
}

// handleSend persists and then broadcasts. Order matters: the message
// must be durable before anyone hears about it, so a reader who fetches
// history right after the event already sees the row. Empty text is
// dropped without a reply, matching the REST path's validation but
// without surfacing an error over the socket.
func (h *WSHandler) handleSend(client *ws.Client, ev model.SendMessageEvent) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	ctx := context.Background()
	msg, err := h.chatService.SendMessage(ctx, client.ConversationID, client.UserID, model.SendMessageRequest{Text: ev.Text})
	if err != nil {
		zap.L().Error("realtime send failed",
			zap.String("conversation", client.ConversationID.String()),
			zap.String("user", client.UserID.String()),
			zap.Error(err))
		return
	}

	h.hub.Broadcast(ctx, client.ConversationID, model.NewMessageEvent(msg))
}

// handleReadUpdate routes through the same read-cursor tracker as the
// REST endpoint; invalid message IDs are dropped like empty text.
func (h *WSHandler) handleReadUpdate(client *ws.Client, ev model.ReadUpdateEvent) {
	messageID, err := uuid.Parse(ev.MessageID)
	if err != nil {
		return
	}

	ctx := context.Background()
	cursor, err := h.chatService.MarkRead(ctx, client.ConversationID, client.UserID, messageID)
	if err != nil {
		zap.L().Debug("realtime read update rejected",
			zap.String("conversation", client.ConversationID.String()),
			zap.String("user", client.UserID.String()),
			zap.Error(err))
		return
	}

	h.hub.Broadcast(ctx, client.ConversationID, &model.ServerEvent{
		Type: model.EventReadUpdated,
		Read: &model.ReadCursorEvent{
			Conversation: client.ConversationID.String(),
			User:         client.UserID.String(),
			MessageID:    cursor.String(),
		},
	})
}

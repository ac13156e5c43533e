package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client is one live realtime session: a single connection, scoped to
// a single conversation. A user with several open tabs holds several
// independent clients.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	UserID         uuid.UUID
	ConversationID uuid.UUID

	closeOnce sync.Once
}

// NewClient creates a session bound to one conversation.
func NewClient(hub *Hub, conn *websocket.Conn, userID, conversationID uuid.UUID) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		UserID:         userID,
		ConversationID: conversationID,
	}
}

// closeSend is safe to call from both the hub (reaping a slow session)
// and the read pump (normal teardown).
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// EventHandler processes one decoded inbound event.
type EventHandler func(client *Client, event model.ClientEvent)

// ReadPump pumps inbound frames to the handler. Runs in a per-session
// goroutine; on any read error the session leaves its group and the
// connection closes.
func (c *Client) ReadPump(handler EventHandler) {
	defer func() {
		c.hub.Leave(c.ConversationID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				zap.L().Warn("websocket read error", zap.Error(err))
			}
			break
		}

		event, err := model.ParseClientEvent(data)
		if err != nil {
			// Malformed frames are dropped, never fatal.
			zap.L().Debug("dropping malformed frame", zap.Error(err))
			continue
		}

		if handler != nil {
			handler(c, event)
		}
	}
}

// WritePump pumps hub events to the connection and keeps the
// connection alive with pings. Runs in a per-session goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannel = "marketplace:chat:events"

// room is one conversation's set of live sessions behind its own lock,
// so membership changes and fan-out in one conversation never stall
// another.
type room struct {
	mu      sync.Mutex
	clients map[*Client]bool

	// closed marks a room already reaped from the hub map; a joiner
	// holding a stale pointer must look the conversation up again.
	closed bool
}

// Hub is the connection registry: it maps a conversation ID to the
// group of live sessions joined to it. The hub-wide lock covers only
// the conversation-to-room map; each room carries its own lock.
//
// With a Redis client the broadcast path goes through pub/sub, so
// conversation groups spanning several instances all receive events.
// With a nil client delivery stays in-process (single node, tests).
type Hub struct {
	rooms map[uuid.UUID]*room
	mu    sync.RWMutex

	rdb *redis.Client
}

// envelope wraps an event with its conversation for the Redis channel.
type envelope struct {
	ConversationID uuid.UUID          `json:"conversation_id"`
	Event          *model.ServerEvent `json:"event"`
}

// NewHub creates a connection registry. rdb may be nil.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rooms: make(map[uuid.UUID]*room),
		rdb:   rdb,
	}
}

// Run blocks on the Redis subscriber until ctx is canceled. Without
// Redis there is nothing to pump and Run returns immediately.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}

	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	zap.L().Info("chat hub subscribed", zap.String("channel", redisChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				zap.L().Warn("dropping malformed hub envelope", zap.Error(err))
				continue
			}
			if env.Event != nil {
				h.deliverLocal(env.ConversationID, env.Event)
			}
		}
	}
}

// Join registers a session with a conversation's group.
func (h *Hub) Join(convID uuid.UUID, c *Client) {
	for {
		rm := h.getOrCreateRoom(convID)
		rm.mu.Lock()
		if rm.closed {
			// Reaped between lookup and lock; take a fresh room.
			rm.mu.Unlock()
			continue
		}
		rm.clients[c] = true
		rm.mu.Unlock()
		return
	}
}

func (h *Hub) getOrCreateRoom(convID uuid.UUID) *room {
	h.mu.RLock()
	rm := h.rooms[convID]
	h.mu.RUnlock()
	if rm != nil {
		return rm
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if rm = h.rooms[convID]; rm == nil {
		rm = &room{clients: make(map[*Client]bool)}
		h.rooms[convID] = rm
	}
	return rm
}

// Leave removes a session from a conversation's group. Leaving a
// session that is not present is a no-op.
func (h *Hub) Leave(convID uuid.UUID, c *Client) {
	h.mu.RLock()
	rm := h.rooms[convID]
	h.mu.RUnlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	if rm.clients[c] {
		delete(rm.clients, c)
		c.closeSend()
	}
	empty := len(rm.clients) == 0
	rm.mu.Unlock()

	if empty {
		h.reapRoom(convID, rm)
	}
}

// reapRoom drops an empty room from the hub map. Emptiness is
// re-checked under both locks since a session may have joined in the
// meantime; the hub lock is always taken before the room lock.
func (h *Hub) reapRoom(convID uuid.UUID, rm *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[convID] != rm {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.clients) == 0 {
		rm.closed = true
		delete(h.rooms, convID)
	}
}

// Broadcast delivers event to every session joined to the
// conversation, the sender's own sessions included. Delivery is best
// effort: a session that cannot keep up is dropped and the event still
// reaches everyone else.
func (h *Hub) Broadcast(ctx context.Context, convID uuid.UUID, event *model.ServerEvent) {
	if h.rdb != nil {
		h.publish(ctx, convID, event)
		return
	}
	h.deliverLocal(convID, event)
}

func (h *Hub) publish(ctx context.Context, convID uuid.UUID, event *model.ServerEvent) {
	data, err := json.Marshal(envelope{ConversationID: convID, Event: event})
	if err != nil {
		zap.L().Error("could not marshal hub envelope", zap.Error(err))
		return
	}
	if err := h.rdb.Publish(ctx, redisChannel, data).Err(); err != nil {
		zap.L().Error("hub publish failed",
			zap.String("conversation", convID.String()),
			zap.Error(err))
	}
}

func (h *Hub) deliverLocal(convID uuid.UUID, event *model.ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("could not marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	rm := h.rooms[convID]
	h.mu.RUnlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	for client := range rm.clients {
		select {
		case client.send <- data:
		default:
			// Send buffer full; reap the session rather than block
			// or fail the broadcast for the others.
			delete(rm.clients, client)
			client.closeSend()
			zap.L().Warn("dropping slow chat session",
				zap.String("conversation", convID.String()),
				zap.String("user", client.UserID.String()))
		}
	}
	empty := len(rm.clients) == 0
	rm.mu.Unlock()

	if empty {
		h.reapRoom(convID, rm)
	}
}

// SessionCount reports the number of sessions joined to a conversation
// on this instance.
func (h *Hub) SessionCount(convID uuid.UUID) int {
	h.mu.RLock()
	rm := h.rooms[convID]
	h.mu.RUnlock()
	if rm == nil {
		return 0
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.clients)
}

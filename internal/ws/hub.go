package ws

import (
	"log"
	"sync"

	"github.com/gofiber/websocket/v2"
)

// serverEvent is the envelope for every server-initiated push.
type serverEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// client wraps one websocket connection with a write lock, since fiber's
// websocket connections do not allow concurrent writes.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks which dashboard clients belong to which user, so session and
// dashboard events reach every open tab of that user.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) join(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[userID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[userID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[userID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
}

// Emit pushes an event to every connected client of a user. Write failures
// are logged and otherwise ignored; the read loop notices dead connections.
func (h *Hub) Emit(userID, event string, data any) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[userID]))
	for c := range h.rooms[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	msg := serverEvent{Event: event, Data: data}
	for _, c := range clients {
		if err := c.send(msg); err != nil {
			log.Printf("⚠️  Websocket write failed for user %s: %v", userID, err)
		}
	}
}

// HasSubscribers reports whether any dashboard client of the user is connected.
func (h *Hub) HasSubscribers(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID]) > 0
}

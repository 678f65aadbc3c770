package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/models"
	"roomchat/internal/observability"
)

const (
	kindRoom = "room"
	kindUser = "user"

	writeTimeout = 10 * time.Second
)

type client struct {
	conn    *websocket.Conn
	info    ConnInfo
	writeMu sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains active websocket connections per room and per user.
type Hub struct {
	rooms  map[string]map[*websocket.Conn]*client
	users  map[string]map[*websocket.Conn]*client
	mu     sync.RWMutex
	events *observability.EventPublisher
	log    *slog.Logger
}

// NewHub creates an empty hub. events may be nil.
func NewHub(events *observability.EventPublisher, log *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*websocket.Conn]*client),
		users:  make(map[string]map[*websocket.Conn]*client),
		events: events,
		log:    log,
	}
}

// AddRoomClient registers a websocket connection to a room.
func (h *Hub) AddRoomClient(roomID string, conn *websocket.Conn, info ConnInfo) {
	h.add(h.rooms, roomID, conn, info)
}

// RemoveRoomClient removes a room websocket connection.
func (h *Hub) RemoveRoomClient(roomID string, conn *websocket.Conn) {
	h.remove(h.rooms, roomID, conn)
}

// AddUserClient registers a websocket connection receiving a user's direct messages.
func (h *Hub) AddUserClient(userID string, conn *websocket.Conn, info ConnInfo) {
	h.add(h.users, userID, conn, info)
}

// RemoveUserClient removes a user websocket connection.
func (h *Hub) RemoveUserClient(userID string, conn *websocket.Conn) {
	h.remove(h.users, userID, conn)
}

// RoomConnections reports how many sockets are attached to a room.
func (h *Hub) RoomConnections(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// UserConnections reports how many sockets a user holds.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// BroadcastRoom sends event to every client in the room.
func (h *Hub) BroadcastRoom(roomID string, event models.RoomEvent) {
	if event.RoomID == "" {
		event.RoomID = roomID
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal room event", "type", event.Type, "error", err)
		return
	}
	h.fanOut(kindRoom, roomID, payload)
}

// SendToUsers delivers event to every socket of the given users.
func (h *Hub) SendToUsers(event models.DirectEvent, userIDs ...string) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal direct event", "type", event.Type, "error", err)
		return
	}
	for _, userID := range userIDs {
		h.fanOut(kindUser, userID, payload)
	}
}

// reply writes v to a single connection of the pool.
func (h *Hub) reply(kind, key string, conn *websocket.Conn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.RLock()
	pool := h.rooms
	if kind == kindUser {
		pool = h.users
	}
	c, ok := pool[key][conn]
	h.mu.RUnlock()
	if !ok || c.conn == nil {
		return
	}
	if err := c.write(payload); err != nil {
		h.log.Warn("websocket reply failed", "kind", kind, "key", key, "conn_id", c.info.ConnID, "error", err)
	}
}

func (h *Hub) add(pool map[string]map[*websocket.Conn]*client, key string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := pool[key]; !ok {
		pool[key] = make(map[*websocket.Conn]*client)
	}
	pool[key][conn] = &client{conn: conn, info: info}
}

func (h *Hub) remove(pool map[string]map[*websocket.Conn]*client, key string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := pool[key]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(pool, key)
		}
	}
}

func (h *Hub) snapshot(kind, key string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	pool := h.rooms
	if kind == kindUser {
		pool = h.users
	}
	clients := make([]*client, 0, len(pool[key]))
	for _, c := range pool[key] {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) fanOut(kind, key string, payload []byte) {
	for _, c := range h.snapshot(kind, key) {
		if c.conn == nil {
			continue
		}
		if err := c.write(payload); err != nil {
			h.log.Warn("websocket write error", "kind", kind, "key", key, "conn_id", c.info.ConnID, "error", err)
			c.conn.Close()
			if kind == kindUser {
				h.RemoveUserClient(key, c.conn)
			} else {
				h.RemoveRoomClient(key, c.conn)
			}
			h.publishWS(context.Background(), kind, "ws_error", c.info, err.Error())
		}
	}
}

// publishWS reports a connection lifecycle event to metrics and the bus.
func (h *Hub) publishWS(ctx context.Context, kind, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(kind, event)
	payload := map[string]any{
		"ws": map[string]any{
			"kind":        kind,
			"resource_id": info.ResourceID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id": info.UserID,
			"ip":      info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = h.events.PublishEvent(ctx, wsRoutingKey(kind), "ws_events", event, payload, headers)
}

func wsRoutingKey(kind string) string {
	if kind == kindUser {
		return "ws_events.users"
	}
	return "ws_events.rooms"
}

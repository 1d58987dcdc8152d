package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Hub maintains the per-user rooms of the push channel. A user may hold
// several live connections (tabs, devices); every event for the user
// goes to all of them.
type Hub struct {
	mu        sync.RWMutex
	userConns map[string]map[*websocket.Conn]ConnInfo
	connUsers map[*websocket.Conn]string
	onEvict   func(connID string)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		userConns: make(map[string]map[*websocket.Conn]ConnInfo),
		connUsers: make(map[*websocket.Conn]string),
	}
}

// OnEvict registers a callback fired with the connection id whenever a
// write error drops a connection, so the presence roster sheds the row
// at the same moment. Set once, before the hub starts serving.
func (h *Hub) OnEvict(fn func(connID string)) {
	h.onEvict = fn
}

// AddClient registers a websocket connection under a user id.
func (h *Hub) AddClient(userID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userConns[userID]; !ok {
		h.userConns[userID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.userConns[userID][conn] = info
	h.connUsers[conn] = userID
}

// RemoveClient removes a websocket connection. Returns the user id it
// belonged to, empty when the connection was never registered.
func (h *Hub) RemoveClient(conn *websocket.Conn) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID, ok := h.connUsers[conn]
	if !ok {
		return ""
	}
	delete(h.connUsers, conn)
	if conns, ok := h.userConns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.userConns, userID)
		}
	}
	return userID
}

// EmitToUser sends an event to every connection of a user. At-most-once
// delivery: an offline user simply misses the event and recovers it
// from the next authoritative fetch.
func (h *Hub) EmitToUser(userID string, event string, data interface{}) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.userConns[userID]))
	for conn := range h.userConns[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("marshal %s event: %v", event, err)
		return
	}
	envelope, _ := json.Marshal(models.Envelope{Event: event, Data: payload})

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
			h.dropConn(conn, err)
		}
	}
	observability.IncWSEvent(event)
}

// dropConn evicts a connection whose write failed: hub entry, roster
// row, and the audit trail all go together.
func (h *Hub) dropConn(conn *websocket.Conn, err error) {
	log.Printf("websocket write error: %v", err)
	conn.Close()
	h.publishWSError(conn, err)

	info, known := h.getConnInfo(conn)
	h.RemoveClient(conn)
	if known && h.onEvict != nil {
		h.onEvict(info.ConnID)
	}
}

// BroadcastPresence fans the roster snapshot out to every connection as
// a getUsers event. Satisfies presence.Broadcaster.
func (h *Hub) BroadcastPresence(users []models.ConnectedUser) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.connUsers))
	for conn := range h.connUsers {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(users)
	envelope, _ := json.Marshal(models.Envelope{Event: models.EventGetUsers, Data: payload})

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
			h.dropConn(conn, err)
		}
	}
	observability.IncWSEvent(models.EventGetUsers)
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connUsers)
}

func (h *Hub) publishWSError(conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.EventHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.sync", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}

func (h *Hub) getConnInfo(conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	userID, ok := h.connUsers[conn]
	if !ok {
		return ConnInfo{}, false
	}
	info, exists := h.userConns[userID][conn]
	return info, exists
}

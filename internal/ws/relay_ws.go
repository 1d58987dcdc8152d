package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/presence"
)

// TokenValidator resolves a bearer token to a user id. Authentication
// itself lives in an external service; this is only the boundary hook.
type TokenValidator func(ctx context.Context, token string) (string, error)

// RelayHandler upgrades push channel connections and routes the
// channel's command surface: joinRoom, registerForNewMessages,
// sendMessage, markAsRead in; newMessage, messageRead, messagesRead,
// getUsers out.
type RelayHandler struct {
	hub      *Hub
	roster   *presence.Roster
	validate TokenValidator
}

// NewRelayHandler constructs a RelayHandler. validate may be nil, in
// which case the user id query parameter is trusted (tests, local dev).
func NewRelayHandler(hub *Hub, roster *presence.Roster, validate TokenValidator) *RelayHandler {
	// A connection dropped on a failed write sheds its roster row too,
	// not just its hub entry.
	hub.OnEvict(roster.Remove)
	return &RelayHandler{hub: hub, roster: roster, validate: validate}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs its read loop.
func (h *RelayHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.Query("userId")
	if h.validate != nil {
		token := c.GetHeader("Authorization")
		if token == "" {
			token = c.Query("token")
		}
		validated, err := h.validate(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID = validated
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.ClientRequestID(c.Request)
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.ClientDeviceID(c.Request),
		IP:          observability.ClientIP(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(userID, conn, info)
	h.roster.Upsert(userID, info.ConnID, "")

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.sync", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       "ws_connect",
				"conn_id":     info.ConnID,
				"duration_ms": 0,
				"reason":      "",
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.EventHeaders(requestID, traceID))

	go h.readLoop(ctx, conn, info)
}

func (h *RelayHandler) readLoop(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.RemoveClient(conn)
		h.roster.Remove(info.ConnID)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(ctx, "ws_events.sync", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload: map[string]interface{}{
				"ws": map[string]interface{}{
					"event":       "ws_disconnect",
					"conn_id":     info.ConnID,
					"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
					"reason":      closeReason,
				},
				"identity": map[string]interface{}{
					"user_id":   info.UserID,
					"device_id": info.DeviceID,
					"ip":        info.IP,
				},
			},
		}, observability.EventHeaders(info.RequestID, info.TraceID))
		conn.Close()
	}()

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		h.route(env, conn, info)
	}
}

func (h *RelayHandler) route(env models.Envelope, conn *websocket.Conn, info ConnInfo) {
	observability.IncWSEvent(env.Event)

	switch env.Event {
	case models.EventJoinRoom, models.EventRegisterForMsgs:
		var join models.JoinPayload
		if json.Unmarshal(env.Data, &join) != nil {
			return
		}
		userID := join.UserID.String()
		if userID == "" {
			userID = info.UserID
		}
		h.hub.AddClient(userID, conn, info)
		h.roster.Upsert(userID, info.ConnID, join.SecondaryID)

	case models.EventSendMessage:
		var rec models.MessageRecord
		if json.Unmarshal(env.Data, &rec) != nil {
			return
		}
		receiver := rec.Receiver.ID
		if receiver == "" || receiver == info.UserID {
			return
		}
		h.hub.EmitToUser(receiver, models.EventNewMessage, json.RawMessage(env.Data))

	case models.EventMarkAsRead:
		var receipt models.ReadReceipt
		if json.Unmarshal(env.Data, &receipt) != nil {
			return
		}
		target := receipt.SenderID.String()
		if target == "" || target == info.UserID {
			return
		}
		h.hub.EmitToUser(target, models.EventMessageRead, receipt)
	}
}

package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
	"chat-sync/internal/presence"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	roster := presence.NewRoster(hub)
	handler := NewRelayHandler(hub, roster, nil)

	router := gin.New()
	router.GET("/ws", handler.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialRelay(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, want string) models.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env models.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Event == want {
			return env
		}
	}
	t.Fatalf("event %q not received", want)
	return models.Envelope{}
}

func TestConnectBroadcastsRoster(t *testing.T) {
	srv := startRelay(t)

	connA := dialRelay(t, srv, "u1")
	env := readEvent(t, connA, models.EventGetUsers)

	var users []models.ConnectedUser
	require.NoError(t, json.Unmarshal(env.Data, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].UserID)

	// A second user joins: both see the grown roster.
	dialRelay(t, srv, "u2")
	env = readEvent(t, connA, models.EventGetUsers)
	require.NoError(t, json.Unmarshal(env.Data, &users))
	assert.Len(t, users, 2)
}

func TestSendMessageForwardedToReceiver(t *testing.T) {
	srv := startRelay(t)

	connA := dialRelay(t, srv, "u1")
	connB := dialRelay(t, srv, "u2")
	readEvent(t, connB, models.EventGetUsers)

	payload, _ := json.Marshal(map[string]interface{}{
		"_id":      "m1",
		"chatId":   "c1",
		"sender":   "u1",
		"receiver": "u2",
		"content":  "hi",
	})
	require.NoError(t, connA.WriteJSON(models.Envelope{Event: models.EventSendMessage, Data: payload}))

	env := readEvent(t, connB, models.EventNewMessage)
	var rec models.MessageRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, "m1", rec.ID.String())
	assert.Equal(t, "hi", rec.Content)
}

func TestMarkAsReadForwardedToSender(t *testing.T) {
	srv := startRelay(t)

	connA := dialRelay(t, srv, "u1")
	connB := dialRelay(t, srv, "u2")
	readEvent(t, connA, models.EventGetUsers)

	payload, _ := json.Marshal(models.ReadReceipt{
		MessageID: "m1",
		ChatID:    "c1",
		SenderID:  "u1",
	})
	require.NoError(t, connB.WriteJSON(models.Envelope{Event: models.EventMarkAsRead, Data: payload}))

	env := readEvent(t, connA, models.EventMessageRead)
	var receipt models.ReadReceipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, "m1", receipt.MessageID.String())
}

func TestReconnectDoesNotDuplicateRosterRow(t *testing.T) {
	srv := startRelay(t)

	connA := dialRelay(t, srv, "u1")
	watcher := dialRelay(t, srv, "u9")
	readEvent(t, watcher, models.EventGetUsers)

	// Same user reconnects from a new connection.
	connA.Close()
	dialRelay(t, srv, "u1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEvent(t, watcher, models.EventGetUsers)
		var users []models.ConnectedUser
		require.NoError(t, json.Unmarshal(env.Data, &users))

		seen := 0
		for _, u := range users {
			if u.UserID == "u1" {
				seen++
			}
		}
		require.LessOrEqual(t, seen, 1, "reconnect must never duplicate a roster row")
		if seen == 1 && len(users) == 2 {
			return
		}
	}
	t.Fatal("stable roster never observed")
}

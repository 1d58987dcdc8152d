package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startEchoServer runs a ws endpoint that records connections and can
// push envelopes to the most recent one.
func startEchoServer(t *testing.T) (*httptest.Server, func(models.Envelope)) {
	t.Helper()
	var mu sync.Mutex
	var latest *websocket.Conn

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		latest = conn
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	push := func(env models.Envelope) {
		mu.Lock()
		conn := latest
		mu.Unlock()
		require.NotNil(t, conn)
		require.NoError(t, conn.WriteJSON(env))
	}
	return srv, push
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastConfig(candidates ...string) Config {
	return Config{
		Candidates:       candidates,
		MaxAttempts:      1,
		Backoff:          10 * time.Millisecond,
		HandshakeTimeout: time.Second,
	}
}

func TestConnectPrefersFirstLiveCandidate(t *testing.T) {
	srv, _ := startEchoServer(t)
	dead := "ws://127.0.0.1:1/ws"

	selector := NewSelector(fastConfig(dead, wsURL(srv)))
	defer selector.Close()

	connected := make(chan struct{}, 1)
	selector.OnConnect(func() { connected <- struct{}{} })

	require.NoError(t, selector.Connect(context.Background()))
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("connect event not observed")
	}
	assert.Equal(t, models.StatusConnected, selector.Status())
}

func TestConnectSettlesIntoDegradedAndNotifiesOnce(t *testing.T) {
	selector := NewSelector(fastConfig("ws://127.0.0.1:1/ws", "ws://127.0.0.1:2/ws"))
	defer selector.Close()

	notifications := 0
	selector.OnDegraded(func() { notifications++ })

	require.Error(t, selector.Connect(context.Background()))
	assert.Equal(t, models.StatusDegraded, selector.Status())

	// Still degraded: a second exhausted pass must not re-notify.
	require.Error(t, selector.Connect(context.Background()))
	assert.Equal(t, 1, notifications)
}

func TestEmitIsSilentNoopWhenDisconnected(t *testing.T) {
	selector := NewSelector(fastConfig("ws://127.0.0.1:1/ws"))
	defer selector.Close()

	err := selector.Emit(models.EventJoinRoom, models.JoinPayload{UserID: "u1"})
	assert.NoError(t, err)
}

func TestNamedEventsDispatchInOrder(t *testing.T) {
	srv, push := startEchoServer(t)
	selector := NewSelector(fastConfig(wsURL(srv)))
	defer selector.Close()

	got := make(chan string, 4)
	selector.On(models.EventNewMessage, func(data json.RawMessage) {
		var rec models.MessageRecord
		require.NoError(t, json.Unmarshal(data, &rec))
		got <- rec.Content
	})

	require.NoError(t, selector.Connect(context.Background()))

	for _, content := range []string{"one", "two", "three"} {
		payload, err := json.Marshal(map[string]string{"content": content})
		require.NoError(t, err)
		push(models.Envelope{Event: models.EventNewMessage, Data: payload})
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case content := <-got:
			assert.Equal(t, want, content)
		case <-time.After(time.Second):
			t.Fatal("event not dispatched")
		}
	}
}

func TestEmitReachesServer(t *testing.T) {
	received := make(chan models.Envelope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var env models.Envelope
		if conn.ReadJSON(&env) == nil {
			received <- env
		}
	}))
	defer srv.Close()

	selector := NewSelector(fastConfig(wsURL(srv)))
	defer selector.Close()
	require.NoError(t, selector.Connect(context.Background()))

	require.NoError(t, selector.Emit(models.EventMarkAsRead, models.ReadReceipt{MessageID: "m1", ChatID: "c1"}))

	select {
	case env := <-received:
		assert.Equal(t, models.EventMarkAsRead, env.Event)
	case <-time.After(time.Second):
		t.Fatal("emit never reached the server")
	}
}

func TestConnectWithoutCandidates(t *testing.T) {
	selector := NewSelector(Config{})
	assert.ErrorIs(t, selector.Connect(context.Background()), ErrNoCandidates)
}

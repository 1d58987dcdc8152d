package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationSummariesDecodesMixedShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations-summary", r.URL.Path)
		require.Equal(t, "u1", r.URL.Query().Get("userId"))
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"conversations":[
            {"chatId":"c1","sender":{"_id":"u1","name":"Me"},"receiver":{"_id":"u2","name":"Bob"},"lastMessage":"hi","isRead":false,"unreadCount":2},
            {"chatId":42,"sender":"u1","receiver":"u3","lastMessage":"yo"}
        ]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", nil)
	records, err := client.ConversationSummaries(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "c1", records[0].ChatID.String())
	assert.Equal(t, "Bob", records[0].Receiver.Name)
	assert.Equal(t, 2, records[0].UnreadCount)

	assert.Equal(t, "42", records[1].ChatID.String())
	assert.Equal(t, "u3", records[1].Receiver.ID)
}

func TestSendMessageReturnsCreatedRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u2", body["receiverId"])
		assert.Equal(t, "hello", body["content"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"_id":"m9","chatId":"c1","sender":"u1","content":"hello","createdAt":"2024-05-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	created, err := client.SendMessage(context.Background(), "u2", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m9", created.ID.String())
	assert.Equal(t, "u1", created.Sender.ID)
}

func TestMarkReadReturnsModifiedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages/mark-read", r.URL.Path)
		var body struct {
			ChatID     string   `json:"chatId"`
			MessageIDs []string `json:"messageIds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c1", body.ChatID)
		assert.Equal(t, []string{"m1", "m2"}, body.MessageIDs)
		w.Write([]byte(`{"modifiedCount":2}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	count, err := client.MarkRead(context.Background(), "c1", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUnreadCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/unread-count", r.URL.Path)
		w.Write([]byte(`{"unreadCount":7}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	count, err := client.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestNon2xxSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	_, err := client.ConversationSummaries(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

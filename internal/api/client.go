package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chat-sync/internal/models"
)

// PersistenceClient is the authoritative message-persistence
// collaborator. The engine only ever reads opaque record shapes from it
// and normalizes them at the ingress.
type PersistenceClient interface {
	ConversationSummaries(ctx context.Context, userID string) ([]models.SummaryRecord, error)
	ConversationMessages(ctx context.Context, conversationID string, page int) ([]models.MessageRecord, error)
	SendMessage(ctx context.Context, receiverID, content string) (models.MessageRecord, error)
	MarkRead(ctx context.Context, chatID string, messageIDs []string) (int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Client talks JSON over HTTP to the persistence service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a persistence client. An empty httpClient gets a
// sane default timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}
}

// ConversationSummaries fetches the paginated summary feed, most recent
// first.
func (c *Client) ConversationSummaries(ctx context.Context, userID string) ([]models.SummaryRecord, error) {
	var resp struct {
		Conversations []models.SummaryRecord `json:"conversations"`
	}
	query := url.Values{"userId": {userID}}
	if err := c.get(ctx, "/conversations-summary", query, &resp); err != nil {
		return nil, fmt.Errorf("fetch conversation summaries: %w", err)
	}
	return resp.Conversations, nil
}

// ConversationMessages fetches one page of a conversation's messages.
func (c *Client) ConversationMessages(ctx context.Context, conversationID string, page int) ([]models.MessageRecord, error) {
	var resp struct {
		Messages []models.MessageRecord `json:"messages"`
	}
	query := url.Values{}
	if page > 0 {
		query.Set("page", fmt.Sprintf("%d", page))
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, fmt.Errorf("fetch conversation messages: %w", err)
	}
	return resp.Messages, nil
}

// SendMessage creates a message and returns the stored record.
func (c *Client) SendMessage(ctx context.Context, receiverID, content string) (models.MessageRecord, error) {
	body := map[string]string{"receiverId": receiverID, "content": content}
	var created models.MessageRecord
	if err := c.post(ctx, "/messages", body, &created); err != nil {
		return models.MessageRecord{}, fmt.Errorf("send message: %w", err)
	}
	return created, nil
}

// MarkRead marks messages read and returns the modified count.
func (c *Client) MarkRead(ctx context.Context, chatID string, messageIDs []string) (int, error) {
	body := map[string]interface{}{"chatId": chatID, "messageIds": messageIDs}
	var resp struct {
		ModifiedCount int `json:"modifiedCount"`
	}
	if err := c.post(ctx, "/messages/mark-read", body, &resp); err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return resp.ModifiedCount, nil
}

// UnreadCount fetches the user's total unread count.
func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	var resp struct {
		UnreadCount int `json:"unreadCount"`
	}
	query := url.Values{"userId": {userID}}
	if err := c.get(ctx, "/unread-count", query, &resp); err != nil {
		return 0, fmt.Errorf("fetch unread count: %w", err)
	}
	return resp.UnreadCount, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ PersistenceClient = (*Client)(nil)

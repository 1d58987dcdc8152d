package models

import "time"

// DeliveryState tracks the lifecycle of an optimistically sent message.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// Message is the canonical in-memory message representation. ID holds a
// temporary client id (uuid) until the server response reconciles it.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"chat_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	IsRead         bool          `json:"is_read"`
	Delivery       DeliveryState `json:"delivery"`
}

// MarkRead promotes IsRead. It never unsets an already-read message.
func (m *Message) MarkRead() {
	m.IsRead = true
}

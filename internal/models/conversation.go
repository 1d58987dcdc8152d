package models

import "time"

// ConversationSummary is one row of the conversation list: the
// counterpart, the last message, and its read/unread bookkeeping.
type ConversationSummary struct {
	ConversationID      string    `json:"chat_id"`
	CounterpartID       string    `json:"counterpart_id"`
	CounterpartName     string    `json:"counterpart_name"`
	LastMessageText     string    `json:"last_message"`
	LastMessageSenderID string    `json:"last_message_sender_id"`
	LastMessageRead     bool      `json:"last_message_read"`
	LastMessageAt       time.Time `json:"last_message_at"`
	UnreadCount         int       `json:"unread_count"`
}

// Equivalent reports whether two summaries agree on every field a
// refresh is allowed to treat as a genuine change. Timestamp drift
// alone does not count.
func (s ConversationSummary) Equivalent(o ConversationSummary) bool {
	return s.ConversationID == o.ConversationID &&
		s.LastMessageText == o.LastMessageText &&
		s.UnreadCount == o.UnreadCount &&
		s.LastMessageRead == o.LastMessageRead
}

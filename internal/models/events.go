package models

import "encoding/json"

// Push channel event names. Inbound and outbound share one envelope.
const (
	EventJoinRoom        = "joinRoom"
	EventRegisterForMsgs = "registerForNewMessages"
	EventSendMessage     = "sendMessage"
	EventMarkAsRead      = "markAsRead"
	EventNewMessage      = "newMessage"
	EventMessageRead     = "messageRead"
	EventMessagesRead    = "messagesRead"
	EventGetUsers        = "getUsers"
)

// Envelope is the wire format for every push channel event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ReadReceipt announces that a single message was read.
type ReadReceipt struct {
	MessageID FlexID `json:"messageId"`
	ChatID    FlexID `json:"chatId"`
	SenderID  FlexID `json:"senderId,omitempty"`
}

// BulkReadReceipt announces that every unread message in a chat was read.
type BulkReadReceipt struct {
	ChatID FlexID `json:"chatId"`
	Count  int    `json:"count"`
}

// JoinPayload carries the user identity for joinRoom and
// registerForNewMessages.
type JoinPayload struct {
	UserID      FlexID `json:"userId"`
	SecondaryID string `json:"secondaryId,omitempty"`
}

package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// The persistence feed and the push channel disagree on record shapes:
// ids arrive as strings, numbers, or {"_id": ...} wrappers; senders as a
// bare id or an embedded user object; timestamps as RFC3339 strings or
// epoch milliseconds. Everything is coerced here, at the ingress, so
// the merge logic only ever sees the canonical types.

// FlexID is an identifier that unmarshals from a string, a number, or
// an object wrapping the id under "_id"/"id".
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	var s string
	if json.Unmarshal(data, &s) == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if json.Unmarshal(data, &n) == nil {
		*f = FlexID(n.String())
		return nil
	}
	var wrapper struct {
		ID    json.RawMessage `json:"_id"`
		AltID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		*f = ""
		return nil
	}
	if wrapper.ID != nil {
		var inner FlexID
		if inner.UnmarshalJSON(wrapper.ID) == nil {
			*f = inner
			return nil
		}
	}
	if wrapper.AltID != nil {
		var inner FlexID
		if inner.UnmarshalJSON(wrapper.AltID) == nil {
			*f = inner
			return nil
		}
	}
	*f = ""
	return nil
}

func (f FlexID) String() string { return string(f) }

// Equal compares ids regardless of the shape they arrived in.
func (f FlexID) Equal(other string) bool { return string(f) == other }

// FlexTime is a timestamp that unmarshals from an RFC3339 string or
// epoch milliseconds. Malformed values decode to the zero time; callers
// default those rather than reject the record.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var s string
	if json.Unmarshal(data, &s) == nil {
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t.Time = parsed
			return nil
		}
		t.Time = time.Time{}
		return nil
	}
	var n json.Number
	if json.Unmarshal(data, &n) == nil {
		if ms, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			t.Time = time.UnixMilli(ms).UTC()
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

// Party is a message participant that arrives either as a bare id or as
// an embedded user object.
type Party struct {
	ID   string
	Name string
}

func (p *Party) UnmarshalJSON(data []byte) error {
	var id FlexID
	var obj struct {
		ID       FlexID `json:"_id"`
		AltID    FlexID `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && (obj.ID != "" || obj.AltID != "" || obj.Name != "" || obj.Username != "") {
		p.ID = obj.ID.String()
		if p.ID == "" {
			p.ID = obj.AltID.String()
		}
		p.Name = obj.Name
		if p.Name == "" {
			p.Name = obj.Username
		}
		return nil
	}
	if id.UnmarshalJSON(data) == nil {
		p.ID = id.String()
	}
	return nil
}

// MessageRecord is a message as servers send it, before normalization.
type MessageRecord struct {
	ID        FlexID   `json:"_id"`
	AltID     FlexID   `json:"id"`
	ChatID    FlexID   `json:"chatId"`
	Sender    Party    `json:"sender"`
	Receiver  Party    `json:"receiver"`
	Content   string   `json:"content"`
	CreatedAt FlexTime `json:"createdAt"`
	IsRead    bool     `json:"isRead"`
}

// NormalizeMessage coerces a raw record into a canonical Message.
// Partial records are defaulted, never rejected: a missing timestamp
// becomes now, a missing sender stays empty.
func NormalizeMessage(rec MessageRecord, now time.Time) Message {
	id := rec.ID.String()
	if id == "" {
		id = rec.AltID.String()
	}
	createdAt := rec.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = now
	}
	return Message{
		ID:             id,
		ConversationID: rec.ChatID.String(),
		SenderID:       rec.Sender.ID,
		Content:        rec.Content,
		CreatedAt:      createdAt,
		IsRead:         rec.IsRead,
		Delivery:       DeliverySent,
	}
}

// SummaryRecord is one conversation row as the summary feed sends it.
type SummaryRecord struct {
	ChatID        FlexID   `json:"chatId"`
	Sender        Party    `json:"sender"`
	Receiver      Party    `json:"receiver"`
	LastMessage   string   `json:"lastMessage"`
	LastSender    Party    `json:"lastMessageSender"`
	IsRead        bool     `json:"isRead"`
	LastMessageAt FlexTime `json:"lastMessageAt"`
	UnreadCount   int      `json:"unreadCount"`
}

// NormalizeSummary flattens a raw summary row relative to the current
// user: the counterpart is whichever party is not us.
func NormalizeSummary(rec SummaryRecord, currentUserID string, now time.Time) ConversationSummary {
	counterpart := rec.Sender
	if counterpart.ID == currentUserID || counterpart.ID == "" {
		counterpart = rec.Receiver
	}
	name := counterpart.Name
	if name == "" {
		name = "unknown"
	}
	lastAt := rec.LastMessageAt.Time
	if lastAt.IsZero() {
		lastAt = now
	}
	unread := rec.UnreadCount
	if unread < 0 {
		unread = 0
	}
	return ConversationSummary{
		ConversationID:      rec.ChatID.String(),
		CounterpartID:       counterpart.ID,
		CounterpartName:     name,
		LastMessageText:     rec.LastMessage,
		LastMessageSenderID: rec.LastSender.ID,
		LastMessageRead:     rec.IsRead,
		LastMessageAt:       lastAt,
		UnreadCount:         unread,
	}
}

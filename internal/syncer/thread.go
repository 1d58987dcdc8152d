package syncer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/readstate"
)

// ErrNoConversation is returned by operations that need an open thread.
var ErrNoConversation = errors.New("no conversation open")

// Emitter is the push channel surface the thread needs: fire-and-forget
// sends plus the connection state that decides the mark-read fallback.
type Emitter interface {
	Emit(event string, payload interface{}) error
	Status() models.ChannelStatus
}

// Thread merges push events, optimistic local sends, and periodic full
// refreshes into the ordered message buffer of the one open
// conversation. Other conversations keep nothing in memory.
type Thread struct {
	userID  string
	client  api.PersistenceClient
	store   *readstate.Store
	emitter Emitter
	list    *ConversationList
	now     func() time.Time

	mu             sync.Mutex
	conversationID string
	counterpartID  string
	messages       []models.Message
}

// NewThread builds a thread synchronizer. The emitter and list may be
// nil; receipts then go over REST only and no summary write-through
// happens.
func NewThread(userID string, client api.PersistenceClient, store *readstate.Store, emitter Emitter, list *ConversationList) *Thread {
	return &Thread{
		userID:  userID,
		client:  client,
		store:   store,
		emitter: emitter,
		list:    list,
		now:     time.Now,
	}
}

// Open switches to a conversation: fetches the most recent message
// page, replaces the buffer, and issues read receipts for every fetched
// message we have not read. A fetch failure keeps whatever buffer the
// conversation already had.
func (t *Thread) Open(ctx context.Context, conversationID, counterpartID string) error {
	t.mu.Lock()
	if t.conversationID != conversationID {
		// Never show the previous conversation's messages while the
		// new fetch is in flight.
		t.messages = nil
	}
	t.conversationID = conversationID
	t.counterpartID = counterpartID
	t.mu.Unlock()

	if t.list != nil {
		t.list.OpenConversation(conversationID)
	}

	records, err := t.client.ConversationMessages(ctx, conversationID, 0)
	if err != nil {
		log.Printf("thread fetch failed: %v", err)
		return err
	}

	now := t.now()
	fetched := make([]models.Message, 0, len(records))
	fetchedIDs := make(map[string]struct{}, len(records))
	var unreadIDs []string
	for _, rec := range records {
		msg := models.NormalizeMessage(rec, now)
		if msg.SenderID != t.userID && !msg.IsRead {
			unreadIDs = append(unreadIDs, msg.ID)
			msg.IsRead = true
		}
		fetched = append(fetched, msg)
		fetchedIDs[msg.ID] = struct{}{}
	}

	t.mu.Lock()
	if t.conversationID != conversationID {
		// The user navigated away while the fetch was in flight.
		t.mu.Unlock()
		return nil
	}
	// Carry pending and failed optimistic messages across the refetch:
	// the server does not know them yet, and a failed message must stay
	// visible until the user retries or gives up.
	for _, msg := range t.messages {
		if msg.Delivery == models.DeliverySent {
			continue
		}
		if _, ok := fetchedIDs[msg.ID]; ok {
			continue
		}
		fetched = append(fetched, msg)
	}
	t.messages = fetched
	t.mu.Unlock()

	t.issueReceipts(ctx, conversationID, unreadIDs)
	return nil
}

// Refetch re-runs the fetch for the currently open conversation. Used
// by degraded-mode polling; a no-op when nothing is open.
func (t *Thread) Refetch(ctx context.Context) error {
	t.mu.Lock()
	conversationID := t.conversationID
	counterpartID := t.counterpartID
	t.mu.Unlock()

	if conversationID == "" {
		return nil
	}
	return t.Open(ctx, conversationID, counterpartID)
}

// Send appends an optimistic pending message immediately, then issues
// the create request. Success reconciles the temporary id and
// timestamp; failure marks the message failed but leaves it visible.
func (t *Thread) Send(ctx context.Context, content string) (string, error) {
	t.mu.Lock()
	conversationID := t.conversationID
	counterpartID := t.counterpartID
	if conversationID == "" {
		t.mu.Unlock()
		return "", ErrNoConversation
	}

	tempID := uuid.NewString()
	t.messages = append(t.messages, models.Message{
		ID:             tempID,
		ConversationID: conversationID,
		SenderID:       t.userID,
		Content:        content,
		CreatedAt:      t.now(),
		Delivery:       models.DeliveryPending,
	})
	t.mu.Unlock()

	return tempID, t.deliver(ctx, tempID, conversationID, counterpartID, content)
}

// Retry re-issues a failed optimistic message, keeping its position.
func (t *Thread) Retry(ctx context.Context, tempID string) error {
	t.mu.Lock()
	idx := t.indexOf(tempID)
	if idx < 0 || t.messages[idx].Delivery != models.DeliveryFailed {
		t.mu.Unlock()
		return errors.New("no failed message with that id")
	}
	t.messages[idx].Delivery = models.DeliveryPending
	content := t.messages[idx].Content
	conversationID := t.conversationID
	counterpartID := t.counterpartID
	t.mu.Unlock()

	return t.deliver(ctx, tempID, conversationID, counterpartID, content)
}

func (t *Thread) deliver(ctx context.Context, tempID, conversationID, counterpartID, content string) error {
	created, err := t.client.SendMessage(ctx, counterpartID, content)
	if err != nil {
		log.Printf("send failed: %v", err)
		t.mu.Lock()
		if idx := t.indexOf(tempID); idx >= 0 {
			t.messages[idx].Delivery = models.DeliveryFailed
		}
		t.mu.Unlock()
		return err
	}

	msg := models.NormalizeMessage(created, t.now())

	t.mu.Lock()
	if existing := t.indexOf(msg.ID); existing >= 0 {
		// The server copy already arrived over the push channel; drop
		// the optimistic duplicate.
		if idx := t.indexOf(tempID); idx >= 0 {
			t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
		}
		t.messages[t.indexOf(msg.ID)].Delivery = models.DeliverySent
	} else if idx := t.indexOf(tempID); idx >= 0 {
		t.messages[idx].ID = msg.ID
		t.messages[idx].CreatedAt = msg.CreatedAt
		t.messages[idx].Delivery = models.DeliverySent
	}
	t.mu.Unlock()

	// Fire-and-forget relay so the counterpart sees the message without
	// waiting for their next poll.
	if t.emitter != nil {
		if err := t.emitter.Emit(models.EventSendMessage, created); err != nil {
			log.Printf("sendMessage emit failed: %v", err)
		}
	}

	if t.list != nil {
		t.list.ApplyLocalSend(conversationID, counterpartID, content, msg.CreatedAt)
	}
	return nil
}

// ApplyIncomingMessage folds a newMessage push event into the buffer.
// Messages for other conversations are dropped; duplicates by server id
// are dropped; the new message gets an immediate read receipt since the
// thread is being actively viewed.
func (t *Thread) ApplyIncomingMessage(ctx context.Context, rec models.MessageRecord) {
	msg := models.NormalizeMessage(rec, t.now())

	t.mu.Lock()
	if t.conversationID == "" || msg.ConversationID != t.conversationID {
		t.mu.Unlock()
		return
	}
	if msg.ID != "" && t.indexOf(msg.ID) >= 0 {
		t.mu.Unlock()
		return
	}
	if msg.SenderID != t.userID {
		msg.IsRead = true
	}
	t.messages = append(t.messages, msg)
	conversationID := t.conversationID
	t.mu.Unlock()

	if msg.SenderID != t.userID && msg.ID != "" {
		t.issueReceipts(ctx, conversationID, []string{msg.ID})
	}
}

// ApplyReadReceipt flips a single message to read. Ids are compared in
// their normalized form, so raw values and object wrappers match.
func (t *Thread) ApplyReadReceipt(messageID models.FlexID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.indexOf(messageID.String()); idx >= 0 {
		t.messages[idx].MarkRead()
	}
}

// ApplyBulkReadReceipt marks every message we sent in the conversation
// as read. Fired by the messagesRead event.
func (t *Thread) ApplyBulkReadReceipt(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conversationID != t.conversationID {
		return
	}
	for i := range t.messages {
		if t.messages[i].SenderID == t.userID {
			t.messages[i].MarkRead()
		}
	}
}

// Messages returns a copy of the buffer in append order.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// ConversationID returns the open conversation, empty when closed.
func (t *Thread) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// Close drops the buffer and the open-conversation marker.
func (t *Thread) Close() {
	t.mu.Lock()
	t.conversationID = ""
	t.counterpartID = ""
	t.messages = nil
	t.mu.Unlock()

	if t.list != nil {
		t.list.CloseConversation()
	}
}

// issueReceipts fans read receipts out over the push channel, falling
// back to the reliable REST call when the channel is unavailable.
func (t *Thread) issueReceipts(ctx context.Context, conversationID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}

	t.mu.Lock()
	counterpartID := t.counterpartID
	t.mu.Unlock()

	pushDelivered := false
	if t.emitter != nil && t.emitter.Status() == models.StatusConnected {
		pushDelivered = true
		for _, id := range messageIDs {
			receipt := models.ReadReceipt{
				MessageID: models.FlexID(id),
				ChatID:    models.FlexID(conversationID),
				SenderID:  models.FlexID(counterpartID),
			}
			if err := t.emitter.Emit(models.EventMarkAsRead, receipt); err != nil {
				log.Printf("markAsRead emit failed: %v", err)
				pushDelivered = false
				break
			}
		}
	}

	if !pushDelivered {
		if _, err := t.client.MarkRead(ctx, conversationID, messageIDs); err != nil {
			log.Printf("mark-read fallback failed: %v", err)
		}
	}
}

func (t *Thread) indexOf(messageID string) int {
	for i, m := range t.messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

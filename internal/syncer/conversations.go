package syncer

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/readstate"
)

// ConversationList merges push events and periodic full refreshes into
// the ordered conversation summary list. The read-state store is
// consulted on every merge so a stale refresh can never take a
// delivered indicator back to unread.
type ConversationList struct {
	userID string
	client api.PersistenceClient
	store  *readstate.Store
	now    func() time.Time

	mu        sync.Mutex
	summaries []models.ConversationSummary
	open      string
	touched   map[string]int64
	seq       int64
}

// NewConversationList builds a synchronizer for one user's list.
func NewConversationList(userID string, client api.PersistenceClient, store *readstate.Store) *ConversationList {
	return &ConversationList{
		userID:  userID,
		client:  client,
		store:   store,
		now:     time.Now,
		touched: make(map[string]int64),
	}
}

// Refresh fetches the authoritative summary feed and merges it in. The
// held list is replaced only when a genuine field differs, so unchanged
// data causes no downstream re-render. A fetch failure retains the
// current list.
func (l *ConversationList) Refresh(ctx context.Context) error {
	records, err := l.client.ConversationSummaries(ctx, l.userID)
	if err != nil {
		log.Printf("conversation refresh failed: %v", err)
		return err
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	incoming := make([]models.ConversationSummary, 0, len(records))
	for _, rec := range records {
		summary := models.NormalizeSummary(rec, l.userID, now)
		// Monotonic guard: once the store saw the counterpart read our
		// last message, no refresh may report it unread again.
		if summary.LastMessageSenderID == l.userID && l.store.Get(summary.ConversationID) {
			summary.LastMessageRead = true
		}
		if summary.ConversationID == l.open {
			summary.UnreadCount = 0
		}
		incoming = append(incoming, summary)
	}
	l.sortInto(incoming)

	if !l.genuineChange(incoming) {
		return nil
	}
	l.summaries = incoming
	return nil
}

// ApplyIncomingMessage folds a newMessage push event into the list. The
// unread count bumps only when the message's conversation is not the
// one currently open, and the touched summary moves to the front.
func (l *ConversationList) ApplyIncomingMessage(rec models.MessageRecord) {
	msg := models.NormalizeMessage(rec, l.now())
	counterpart := rec.Sender
	if counterpart.ID == l.userID || counterpart.ID == "" {
		counterpart = rec.Receiver
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(msg.ConversationID)
	if idx < 0 {
		name := counterpart.Name
		if name == "" {
			name = "unknown"
		}
		l.summaries = append(l.summaries, models.ConversationSummary{
			ConversationID:  msg.ConversationID,
			CounterpartID:   counterpart.ID,
			CounterpartName: name,
		})
		idx = len(l.summaries) - 1
	}

	summary := &l.summaries[idx]
	summary.LastMessageText = msg.Content
	summary.LastMessageSenderID = msg.SenderID
	summary.LastMessageAt = msg.CreatedAt
	if msg.ConversationID != l.open && msg.SenderID != l.userID {
		summary.UnreadCount++
	}

	l.touch(msg.ConversationID)
	l.sortInto(l.summaries)
}

// ApplyLocalSend mirrors an optimistic send into the summary row. The
// read flag is deliberately not pre-set: only an independently
// confirmed receipt promotes it, via the store.
func (l *ConversationList) ApplyLocalSend(conversationID, counterpartID, content string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(conversationID)
	if idx < 0 {
		l.summaries = append(l.summaries, models.ConversationSummary{
			ConversationID:  conversationID,
			CounterpartID:   counterpartID,
			CounterpartName: "unknown",
		})
		idx = len(l.summaries) - 1
	}

	summary := &l.summaries[idx]
	summary.LastMessageText = content
	summary.LastMessageSenderID = l.userID
	summary.LastMessageAt = at
	summary.LastMessageRead = l.store.Get(conversationID)

	l.touch(conversationID)
	l.sortInto(l.summaries)
}

// ApplyReadReceipt promotes the read flag for a conversation whose last
// message we sent, writing through to the durable store.
func (l *ConversationList) ApplyReadReceipt(ctx context.Context, conversationID string) {
	l.mu.Lock()
	idx := l.indexOf(conversationID)
	ownLastMessage := idx >= 0 && l.summaries[idx].LastMessageSenderID == l.userID
	if ownLastMessage {
		l.summaries[idx].LastMessageRead = true
	}
	l.mu.Unlock()

	// The store records "counterpart read MY last message"; a receipt
	// about one of their messages must not promote it, or the next
	// outgoing message would render as already read.
	if !ownLastMessage {
		return
	}
	if err := l.store.SetReadTrue(ctx, conversationID); err != nil {
		log.Printf("read-state write failed: %v", err)
	}
}

// OpenConversation zeroes the unread count and records the conversation
// as open so later incoming messages skip the unread bump.
func (l *ConversationList) OpenConversation(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open = conversationID
	if idx := l.indexOf(conversationID); idx >= 0 {
		l.summaries[idx].UnreadCount = 0
	}
}

// CloseConversation clears the currently-open marker.
func (l *ConversationList) CloseConversation() {
	l.mu.Lock()
	l.open = ""
	l.mu.Unlock()
}

// OpenConversationID returns the conversation currently open, if any.
func (l *ConversationList) OpenConversationID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Snapshot returns the ordered list, most recent first.
func (l *ConversationList) Snapshot() []models.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ConversationSummary, len(l.summaries))
	copy(out, l.summaries)
	return out
}

// UnreadTotal asks the persistence service for the authoritative total,
// falling back to the local sum when the request fails.
func (l *ConversationList) UnreadTotal(ctx context.Context) int {
	if count, err := l.client.UnreadCount(ctx, l.userID); err == nil {
		return count
	} else {
		log.Printf("unread count fetch failed: %v", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, s := range l.summaries {
		total += s.UnreadCount
	}
	return total
}

func (l *ConversationList) indexOf(conversationID string) int {
	for i, s := range l.summaries {
		if s.ConversationID == conversationID {
			return i
		}
	}
	return -1
}

func (l *ConversationList) touch(conversationID string) {
	l.seq++
	l.touched[conversationID] = l.seq
}

// sortInto orders by last-message timestamp descending, ties broken by
// touch recency (most recently touched wins).
func (l *ConversationList) sortInto(list []models.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return l.touched[a.ConversationID] > l.touched[b.ConversationID]
	})
}

func (l *ConversationList) genuineChange(incoming []models.ConversationSummary) bool {
	if len(incoming) != len(l.summaries) {
		return true
	}
	for i := range incoming {
		if !incoming[i].Equivalent(l.summaries[i]) {
			return true
		}
	}
	return false
}

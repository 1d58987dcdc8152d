package syncer

import (
	"context"
	"encoding/json"
	"log"

	"chat-sync/internal/channel"
	"chat-sync/internal/models"
)

// Channel is the slice of the push channel the engine wires the
// synchronizers to. *channel.Selector satisfies it.
type Channel interface {
	Connect(ctx context.Context) error
	Emit(event string, payload interface{}) error
	Status() models.ChannelStatus
	On(event string, h channel.Handler)
	OnConnect(h func())
	OnDegraded(h func())
}

// Engine is the top-level assembly: it subscribes the synchronizers to
// the push channel events, re-registers the user's room on every
// connect, and runs the degradation controller.
type Engine struct {
	userID     string
	channel    Channel
	list       *ConversationList
	thread     *Thread
	controller *Controller
}

// NewEngine wires the components together. Handlers are registered
// here, before Connect, so no event from the first connection is lost.
func NewEngine(userID string, ch Channel, list *ConversationList, thread *Thread, controller *Controller) *Engine {
	e := &Engine{
		userID:     userID,
		channel:    ch,
		list:       list,
		thread:     thread,
		controller: controller,
	}
	e.subscribe()
	return e
}

func (e *Engine) subscribe() {
	e.channel.OnConnect(func() {
		// The relay holds no session state: every connection re-joins.
		if err := e.channel.Emit(models.EventJoinRoom, models.JoinPayload{UserID: models.FlexID(e.userID)}); err != nil {
			log.Printf("joinRoom emit failed: %v", err)
		}
		if err := e.channel.Emit(models.EventRegisterForMsgs, models.JoinPayload{UserID: models.FlexID(e.userID)}); err != nil {
			log.Printf("registerForNewMessages emit failed: %v", err)
		}

		// Catch up on whatever the channel outage swallowed.
		ctx := context.Background()
		if err := e.list.Refresh(ctx); err != nil {
			log.Printf("post-connect refresh failed: %v", err)
		}
		if err := e.thread.Refetch(ctx); err != nil {
			log.Printf("post-connect refetch failed: %v", err)
		}
	})

	e.channel.On(models.EventNewMessage, func(data json.RawMessage) {
		var rec models.MessageRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("malformed newMessage payload: %v", err)
			return
		}
		e.thread.ApplyIncomingMessage(context.Background(), rec)
		e.list.ApplyIncomingMessage(rec)
	})

	e.channel.On(models.EventMessageRead, func(data json.RawMessage) {
		var receipt models.ReadReceipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			log.Printf("malformed messageRead payload: %v", err)
			return
		}
		e.thread.ApplyReadReceipt(receipt.MessageID)
		e.list.ApplyReadReceipt(context.Background(), receipt.ChatID.String())
	})

	e.channel.On(models.EventMessagesRead, func(data json.RawMessage) {
		var receipt models.BulkReadReceipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			log.Printf("malformed messagesRead payload: %v", err)
			return
		}
		e.thread.ApplyBulkReadReceipt(receipt.ChatID.String())
		e.list.ApplyReadReceipt(context.Background(), receipt.ChatID.String())
	})
}

// Start runs the initial refresh, arms the degradation controller, and
// dials the push channel. A dial failure is not fatal: the controller's
// grace window hands synchronization to polling.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.list.Refresh(ctx); err != nil {
		log.Printf("initial refresh failed: %v", err)
	}

	e.controller.Start(e.channel)

	if err := e.channel.Connect(ctx); err != nil {
		log.Printf("push channel unavailable at startup: %v", err)
	}
	return nil
}

// Stop tears down polling. The channel is closed by its owner.
func (e *Engine) Stop() {
	e.controller.Stop()
}

// List exposes the conversation list synchronizer.
func (e *Engine) List() *ConversationList { return e.list }

// Thread exposes the message thread synchronizer.
func (e *Engine) Thread() *Thread { return e.thread }

// Mode reports the controller's current operating mode.
func (e *Engine) Mode() Mode { return e.controller.Mode() }

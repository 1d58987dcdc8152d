package syncer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/channel"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

// fakeChannel records emits and lets tests fire events synchronously,
// the way the selector's read loop would.
type fakeChannel struct {
	handlers  map[string][]channel.Handler
	onConnect []func()
	emitted   []models.Envelope
	status    models.ChannelStatus
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: make(map[string][]channel.Handler),
		status:   models.StatusConnected,
	}
}

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }

func (f *fakeChannel) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.emitted = append(f.emitted, models.Envelope{Event: event, Data: data})
	return nil
}

func (f *fakeChannel) Status() models.ChannelStatus { return f.status }

func (f *fakeChannel) On(event string, h channel.Handler) {
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeChannel) OnConnect(h func())  { f.onConnect = append(f.onConnect, h) }
func (f *fakeChannel) OnDegraded(h func()) {}

func (f *fakeChannel) fire(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	for _, h := range f.handlers[event] {
		h(data)
	}
}

func (f *fakeChannel) fireConnect() {
	for _, h := range f.onConnect {
		h()
	}
}

func newTestEngine(t *testing.T, client *mocks.PersistenceClientMock, ch *fakeChannel) *Engine {
	t.Helper()
	store := testStore(t)
	list := NewConversationList("u1", client, store)
	thread := NewThread("u1", client, store, ch, list)
	controller := NewController(ControllerConfig{}, list, thread)
	t.Cleanup(controller.Stop)
	return NewEngine("u1", ch, list, thread, controller)
}

func TestEngineRoutesNewMessageToBothSynchronizers(t *testing.T) {
	client := new(mocks.PersistenceClientMock)
	ch := newFakeChannel()
	engine := newTestEngine(t, client, ch)

	ch.fire(t, models.EventNewMessage, messageRecord("m1", "c1", "u2", "hi", false))

	summaries := engine.List().Snapshot()
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	assert.Empty(t, engine.Thread().Messages(), "no thread open, nothing buffered")
}

func TestEngineRoutesReceiptsToBothSynchronizers(t *testing.T) {
	client := new(mocks.PersistenceClientMock)
	ch := newFakeChannel()
	engine := newTestEngine(t, client, ch)
	ctx := context.Background()

	client.On("ConversationMessages", mock.Anything, "c1", 0).Return([]models.MessageRecord{
		messageRecord("m1", "c1", "u1", "mine", false),
	}, nil).Once()
	require.NoError(t, engine.Thread().Open(ctx, "c1", "u2"))
	engine.List().ApplyLocalSend("c1", "u2", "mine", engine.Thread().Messages()[0].CreatedAt)

	ch.fire(t, models.EventMessageRead, models.ReadReceipt{MessageID: "m1", ChatID: "c1"})

	assert.True(t, engine.Thread().Messages()[0].IsRead)
	assert.True(t, engine.List().Snapshot()[0].LastMessageRead)
}

func TestEngineBulkReceiptMarksOwnMessages(t *testing.T) {
	client := new(mocks.PersistenceClientMock)
	ch := newFakeChannel()
	engine := newTestEngine(t, client, ch)
	ctx := context.Background()

	client.On("ConversationMessages", mock.Anything, "c1", 0).Return([]models.MessageRecord{
		messageRecord("m1", "c1", "u1", "one", false),
		messageRecord("m2", "c1", "u1", "two", false),
	}, nil).Once()
	require.NoError(t, engine.Thread().Open(ctx, "c1", "u2"))

	ch.fire(t, models.EventMessagesRead, models.BulkReadReceipt{ChatID: "c1", Count: 2})

	for _, msg := range engine.Thread().Messages() {
		assert.True(t, msg.IsRead)
	}
}

func TestEngineReJoinsRoomOnConnect(t *testing.T) {
	client := new(mocks.PersistenceClientMock)
	ch := newFakeChannel()
	newTestEngine(t, client, ch)

	client.On("ConversationSummaries", mock.Anything, "u1").Return(nil, nil)

	ch.fireConnect()

	require.GreaterOrEqual(t, len(ch.emitted), 2)
	assert.Equal(t, models.EventJoinRoom, ch.emitted[0].Event)
	assert.Equal(t, models.EventRegisterForMsgs, ch.emitted[1].Event)
	client.AssertCalled(t, "ConversationSummaries", mock.Anything, "u1")
}

func TestEngineMalformedPayloadIsDropped(t *testing.T) {
	client := new(mocks.PersistenceClientMock)
	ch := newFakeChannel()
	engine := newTestEngine(t, client, ch)

	for _, h := range ch.handlers[models.EventNewMessage] {
		h(json.RawMessage(`not json`))
	}
	assert.Empty(t, engine.List().Snapshot())
}

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
)

type PersistenceClientMock struct {
	mock.Mock
}

func (m *PersistenceClientMock) ConversationSummaries(ctx context.Context, userID string) ([]models.SummaryRecord, error) {
	args := m.Called(ctx, userID)
	var records []models.SummaryRecord
	if val := args.Get(0); val != nil {
		records = val.([]models.SummaryRecord)
	}
	return records, args.Error(1)
}

func (m *PersistenceClientMock) ConversationMessages(ctx context.Context, conversationID string, page int) ([]models.MessageRecord, error) {
	args := m.Called(ctx, conversationID, page)
	var records []models.MessageRecord
	if val := args.Get(0); val != nil {
		records = val.([]models.MessageRecord)
	}
	return records, args.Error(1)
}

func (m *PersistenceClientMock) SendMessage(ctx context.Context, receiverID, content string) (models.MessageRecord, error) {
	args := m.Called(ctx, receiverID, content)
	var record models.MessageRecord
	if val := args.Get(0); val != nil {
		record = val.(models.MessageRecord)
	}
	return record, args.Error(1)
}

func (m *PersistenceClientMock) MarkRead(ctx context.Context, chatID string, messageIDs []string) (int, error) {
	args := m.Called(ctx, chatID, messageIDs)
	return args.Int(0), args.Error(1)
}

func (m *PersistenceClientMock) UnreadCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

var _ api.PersistenceClient = (*PersistenceClientMock)(nil)

// EmitterMock records push channel emits and reports a configurable
// status.
type EmitterMock struct {
	mock.Mock
}

func (m *EmitterMock) Emit(event string, payload interface{}) error {
	args := m.Called(event, payload)
	return args.Error(0)
}

func (m *EmitterMock) Status() models.ChannelStatus {
	args := m.Called()
	return args.Get(0).(models.ChannelStatus)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

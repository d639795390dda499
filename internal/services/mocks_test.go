package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/queue"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Declare(ctx context.Context, q queue.Queue) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockBroker) Publish(ctx context.Context, name string, body []byte) error {
	args := m.Called(ctx, name, body)
	return args.Error(0)
}

func (m *MockBroker) Consume(ctx context.Context, q queue.Queue) (*queue.Delivery, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Delivery), args.Error(1)
}

func (m *MockBroker) Ack(ctx context.Context, q queue.Queue, d *queue.Delivery) error {
	args := m.Called(ctx, q, d)
	return args.Error(0)
}

func (m *MockBroker) Nack(ctx context.Context, q queue.Queue, d *queue.Delivery, requeue bool) error {
	args := m.Called(ctx, q, d, requeue)
	return args.Error(0)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageStore) BeginAttempt(ctx context.Context, id int64, at time.Time) (*models.Message, error) {
	args := m.Called(ctx, id, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockMessageStore) RecordFailure(ctx context.Context, id int64, reason string, at time.Time) error {
	args := m.Called(ctx, id, reason, at)
	return args.Error(0)
}

func (m *MockMessageStore) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	args := m.Called(ctx, id, reason, at)
	return args.Error(0)
}

func (m *MockMessageStore) MarkDeadLettered(ctx context.Context, id int64, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageStore) ListRecentByStatus(ctx context.Context, senderID int64, status models.MessageStatus, limit int) ([]models.Message, error) {
	args := m.Called(ctx, senderID, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Message, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

type MockBatchRunner struct {
	mock.Mock
}

func (m *MockBatchRunner) Run(ctx context.Context, asOf time.Time) (*BatchResult, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BatchResult), args.Error(1)
}

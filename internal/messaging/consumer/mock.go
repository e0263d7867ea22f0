package consumer

import (
	"context"
	"errors"
	"sync"

	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/producer"
	"farmtrace/internal/models"
)

// ErrQueueClosed is returned by a closed MockConsumer.
var ErrQueueClosed = errors.New("message channel closed")

// MockConsumer is an in-process queue. It also implements producer.Producer so a
// tracking service and an engine can share it without a broker.
type MockConsumer struct {
	logger   *logger.Logger
	messages chan *models.ActivityMessage

	mu     sync.RWMutex
	closed bool
}

// NewMockConsumer creates a queue holding up to capacity undelivered messages.
func NewMockConsumer(log *logger.Logger, capacity int) *MockConsumer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MockConsumer{
		logger:   log.Named("mock-queue"),
		messages: make(chan *models.ActivityMessage, capacity),
	}
}

// Publish enqueues one message, blocking while the queue is full.
func (m *MockConsumer) Publish(ctx context.Context, msg *models.ActivityMessage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrQueueClosed
	}
	select {
	case m.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockConsumer) PublishBatch(ctx context.Context, msgs []*models.ActivityMessage) error {
	for _, msg := range msgs {
		if err := m.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Consume reads the next message. A nack re-queues the message if there is room.
func (m *MockConsumer) Consume(ctx context.Context) (*models.ActivityMessage, func(success bool), error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case msg, ok := <-m.messages:
		if !ok {
			return nil, nil, ErrQueueClosed
		}
		ack := func(success bool) {
			if success {
				return
			}
			m.mu.RLock()
			defer m.mu.RUnlock()
			if m.closed {
				return
			}
			select {
			case m.messages <- msg:
				m.logger.Debug("Message re-queued", "request_id", msg.RequestID)
			default:
				m.logger.Warn("Failed to re-queue message, queue full", "request_id", msg.RequestID)
			}
		}
		return msg, ack, nil
	}
}

// Len is the number of undelivered messages.
func (m *MockConsumer) Len() int {
	return len(m.messages)
}

// Close closes the message channel.
func (m *MockConsumer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.messages)
	}
	return nil
}

var (
	_ Consumer          = (*MockConsumer)(nil)
	_ producer.Producer = (*MockConsumer)(nil)
)

package consumer

import (
	"context"
	"testing"
	"time"

	"farmtrace/internal/logger"
	"farmtrace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConsumerRoundTrip(t *testing.T) {
	q := NewMockConsumer(logger.Nop(), 4)
	ctx := context.Background()

	require.NoError(t, q.PublishBatch(ctx, []*models.ActivityMessage{
		{RequestID: "r1", BatchID: "B1", ActivityType: "SEEDING"},
		{RequestID: "r2", BatchID: "B1", ActivityType: "WATERING"},
	}))
	assert.Equal(t, 2, q.Len())

	msg, ack, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", msg.RequestID)
	ack(true)

	msg, ack, err = q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", msg.RequestID)
	ack(false)
	assert.Equal(t, 1, q.Len(), "nack re-queues")

	msg, _, err = q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", msg.RequestID)
}

func TestMockConsumerHonoursContextAndClose(t *testing.T) {
	q := NewMockConsumer(logger.Nop(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := q.Consume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	_, _, err = q.Consume(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Publish(context.Background(), &models.ActivityMessage{}), ErrQueueClosed)
}

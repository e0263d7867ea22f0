package tracking

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"farmtrace/anchoring"
	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/consumer"
	"farmtrace/internal/models"
	"farmtrace/statemachine"
	"farmtrace/statemachine/journey"
	"farmtrace/statemachine/order"
	"farmtrace/storage/store"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cfg config.BatchProcessorConfig) (*Service, *store.MemoryStore, *consumer.MockConsumer) {
	t.Helper()
	st := store.NewMemoryStore()
	queue := consumer.NewMockConsumer(logger.Nop(), 128)
	svc := NewService(st, queue, cfg, logger.Nop())
	return svc, st, queue
}

var fastFlush = config.BatchProcessorConfig{BatchSize: 10, BatchTimeout: 10 * time.Millisecond, MaxBufferSize: 100, FlushChannelBuffer: 4}

func TestRecordActivityQueuesAnchoring(t *testing.T) {
	svc, st, queue := newTestService(t, fastFlush)
	defer svc.Close()

	b := models.NewBatch("B-100", models.CropInfo{Name: "tomato"})
	receipt, err := svc.RecordActivity(context.Background(), b, models.Activity{
		Type: journey.ActivitySeeding, ProductName: "heirloom seed", Quantity: 2.5, IsOrganic: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.RequestID)
	assert.Equal(t, journey.Seeding, receipt.State)
	assert.Equal(t, anchoring.BatchIdentifierHash("B-100"), receipt.BatchHash)
	assert.Equal(t, journey.Seeding, b.CurrentState)
	require.Len(t, b.Activities, 1)
	assert.False(t, b.Activities[0].Timestamp.IsZero())

	require.Eventually(t, func() bool { return queue.Len() == 1 }, time.Second, 5*time.Millisecond)
	msg, _, err := queue.Consume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, receipt.RequestID, msg.RequestID)
	assert.Equal(t, "SEEDING", msg.ActivityType)
	assert.Equal(t, 2.5, msg.Quantity)

	task, err := st.GetTask(context.Background(), receipt.RequestID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, task.Status)
	assert.Equal(t, "2.5", task.Quantity)
	assert.Equal(t, receipt.BatchHash, task.BatchHash)
}

func TestRecordActivityRejectsIllegalStep(t *testing.T) {
	svc, _, queue := newTestService(t, fastFlush)
	defer svc.Close()

	b := models.NewBatch("B-101", models.CropInfo{Name: "kale"})
	_, err := svc.RecordActivity(context.Background(), b, models.Activity{Type: journey.ActivityHarvest})
	require.Error(t, err)
	assert.True(t, anchoring.IsValidation(err))

	var ge *apperrors.Error
	require.True(t, errors.As(err, &ge))
	var cause *apperrors.Error
	require.True(t, errors.As(ge.Source, &cause))
	assert.Equal(t, statemachine.ErrCodeIllegalTransition, cause.TextCode)

	assert.Equal(t, journey.Idle, b.CurrentState)
	assert.Empty(t, b.Activities)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, queue.Len())
}

func TestRecordActivityRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t, fastFlush)
	defer svc.Close()

	_, err := svc.RecordActivity(context.Background(), nil, models.Activity{Type: journey.ActivitySeeding})
	assert.True(t, anchoring.IsValidation(err))

	b := models.NewBatch("B-102", models.CropInfo{})
	_, err = svc.RecordActivity(context.Background(), b, models.Activity{Type: journey.ActivitySeeding, Quantity: math.NaN()})
	assert.True(t, anchoring.IsValidation(err))
	assert.Equal(t, journey.Idle, b.CurrentState)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.RecordActivity(ctx, b, models.Activity{Type: journey.ActivitySeeding})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFullJourneyQueuesInOrder(t *testing.T) {
	svc, _, queue := newTestService(t, config.BatchProcessorConfig{BatchSize: 3, BatchTimeout: time.Hour, MaxBufferSize: 100, FlushChannelBuffer: 4})

	b := models.NewBatch("B-103", models.CropInfo{Name: "lettuce"})
	steps := []journey.Activity{
		journey.ActivitySeeding, journey.ActivityWatering, journey.ActivityFertilizer,
		journey.ActivityHarvest, journey.ActivityPacked, journey.ActivityShipped,
	}
	for _, step := range steps {
		_, err := svc.RecordActivity(context.Background(), b, models.Activity{Type: step, IsOrganic: true})
		require.NoError(t, err)
	}
	assert.True(t, journey.IsComplete(b.CurrentState))
	require.NoError(t, b.Verify())

	svc.Close()
	require.Equal(t, len(steps), queue.Len())
	for _, step := range steps {
		msg, _, err := queue.Consume(context.Background())
		require.NoError(t, err)
		assert.Equal(t, string(step), msg.ActivityType)
	}
}

func TestCloseFlushesBufferedRequests(t *testing.T) {
	svc, st, queue := newTestService(t, config.BatchProcessorConfig{BatchSize: 50, BatchTimeout: time.Hour, MaxBufferSize: 100, FlushChannelBuffer: 1})

	b := models.NewBatch("B-104", models.CropInfo{})
	receipt, err := svc.RecordActivity(context.Background(), b, models.Activity{Type: journey.ActivitySeeding})
	require.NoError(t, err)
	assert.Zero(t, queue.Len())

	svc.Close()
	assert.Equal(t, 1, queue.Len())
	_, err = st.GetTask(context.Background(), receipt.RequestID)
	assert.NoError(t, err)

	_, err = svc.RecordActivity(context.Background(), b, models.Activity{Type: journey.ActivityWatering})
	assert.Equal(t, ErrCodeBacklogFull, anchoring.ErrorCode(err))
	assert.Equal(t, journey.Seeding, b.CurrentState)
}

func TestBacklogLimit(t *testing.T) {
	svc, _, _ := newTestService(t, config.BatchProcessorConfig{BatchSize: 2, BatchTimeout: time.Hour, MaxBufferSize: 2, FlushChannelBuffer: 1})
	defer svc.Close()

	// fill the buffer without waking the flusher
	svc.batchProcessor.bufferMutex.Lock()
	svc.batchProcessor.buffer = append(svc.batchProcessor.buffer, &batchEntry{}, &batchEntry{})
	svc.batchProcessor.bufferMutex.Unlock()

	b := models.NewBatch("B-105", models.CropInfo{})
	_, err := svc.RecordActivity(context.Background(), b, models.Activity{Type: journey.ActivitySeeding})
	assert.Equal(t, ErrCodeBacklogFull, anchoring.ErrorCode(err))
	assert.Equal(t, journey.Idle, b.CurrentState)

	svc.batchProcessor.bufferMutex.Lock()
	svc.batchProcessor.buffer = svc.batchProcessor.buffer[:0]
	svc.batchProcessor.bufferMutex.Unlock()
}

func TestAdvanceOrder(t *testing.T) {
	svc, _, _ := newTestService(t, fastFlush)
	defer svc.Close()

	o := models.NewOrder("O-1", "B-100", "buyer-7")
	require.NoError(t, svc.AdvanceOrder(o, order.EventConfirm))
	assert.Equal(t, order.Confirmed, o.CurrentState)

	err := svc.AdvanceOrder(o, order.EventDeliver)
	assert.True(t, anchoring.IsValidation(err))
	assert.Equal(t, order.Confirmed, o.CurrentState)

	require.NoError(t, svc.AdvanceOrder(o, order.EventCancel))
	assert.True(t, order.IsFinalState(o.CurrentState))
	assert.Error(t, svc.AdvanceOrder(o, order.EventConfirm))
	assert.Error(t, svc.AdvanceOrder(nil, order.EventConfirm))
}

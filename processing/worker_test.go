package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"farmtrace/anchoring"
	"farmtrace/blockchain/client/simulated"
	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/consumer"
	"farmtrace/internal/models"
	"farmtrace/storage/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWorkerConfig = config.WorkerConfig{
	Concurrency:        1,
	BatchSize:          4,
	BatchTimeout:       "20ms",
	ConsumerRetryDelay: "10ms",
	BlockchainTimeout:  "1s",
}

type harness struct {
	store  *store.MemoryStore
	queue  *consumer.MockConsumer
	ledger *simulated.Client
	svc    *anchoring.Service
}

func newHarness() *harness {
	ledger := simulated.NewClient(nil, logger.Nop())
	return &harness{
		store:  store.NewMemoryStore(),
		queue:  consumer.NewMockConsumer(logger.Nop(), 64),
		ledger: ledger,
		svc:    anchoring.NewService(ledger, "", logger.Nop()),
	}
}

func (h *harness) enqueue(t *testing.T, batchID, activityType string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, h.store.InsertAnchorTaskBatch(context.Background(), []*store.AnchorTask{{
		RequestID:         id,
		BatchID:           batchID,
		BatchHash:         anchoring.BatchIdentifierHash(batchID),
		ActivityType:      activityType,
		Quantity:          "0",
		IsOrganic:         true,
		ReceivedTimestamp: time.Now(),
	}}))
	require.NoError(t, h.queue.Publish(context.Background(), &models.ActivityMessage{
		RequestID:    id,
		BatchID:      batchID,
		ActivityType: activityType,
		IsOrganic:    true,
	}))
	return id
}

func (h *harness) status(t *testing.T, id string) store.TaskStatus {
	task, err := h.store.GetTask(context.Background(), id)
	if err != nil {
		t.Errorf("task %s: %v", id, err)
		return ""
	}
	return task.Status
}

func (h *harness) run(t *testing.T, w *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerAnchorsQueuedActivities(t *testing.T) {
	h := newHarness()
	ids := []string{
		h.enqueue(t, "B1", "SEEDING"),
		h.enqueue(t, "B1", "WATERING"),
		h.enqueue(t, "B2", "SEEDING"),
	}
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, nil))

	for _, id := range ids {
		id := id
		assert.Eventually(t, func() bool { return h.status(t, id) == store.StatusCompleted }, 2*time.Second, 10*time.Millisecond)
	}

	task, err := h.store.GetTask(context.Background(), ids[1])
	require.NoError(t, err)
	assert.NotEmpty(t, task.TxRef)
	assert.Equal(t, uint64(2), task.BlockHeight)

	history := h.svc.GetBatchActivities(context.Background(), "B1")
	require.Len(t, history, 2)
	assert.Equal(t, "SEEDING", history[0].ActivityType)
	assert.Equal(t, "WATERING", history[1].ActivityType)
}

func TestWorkerMarksUnconfirmedWritesAmbiguous(t *testing.T) {
	h := newHarness()
	h.ledger.LoseNextConfirmation()
	id := h.enqueue(t, "B1", "SEEDING")
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, nil))

	assert.Eventually(t, func() bool { return h.status(t, id) == store.StatusAmbiguous }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.queue.Len(), "ambiguous writes are acknowledged, not retried blindly")
	assert.Equal(t, uint64(1), h.ledger.Height())
}

func TestWorkerFailsInvalidActivities(t *testing.T) {
	h := newHarness()
	id := h.enqueue(t, "B1", "PLOUGHING")
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, nil))

	assert.Eventually(t, func() bool { return h.status(t, id) == store.StatusFailed }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.ledger.Height())
}

func TestWorkerRetriesTransportFailures(t *testing.T) {
	h := newHarness()
	h.ledger.FailNextWrite(errors.New("node unreachable"))
	id := h.enqueue(t, "B1", "SEEDING")
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, nil))

	assert.Eventually(t, func() bool { return h.status(t, id) == store.StatusCompleted }, 2*time.Second, 10*time.Millisecond)
	task, err := h.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, task.RetryCount)
}

type downRecorder struct {
	mu    sync.Mutex
	calls int
}

func (d *downRecorder) RecordActivity(context.Context, string, anchoring.ActivityData) anchoring.RecordResult {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return anchoring.RecordResult{Outcome: anchoring.OutcomeFailed, Err: errors.New("connection refused")}
}

func TestWorkerStopsAtRetryBudget(t *testing.T) {
	h := newHarness()
	rec := &downRecorder{}
	id := h.enqueue(t, "B1", "SEEDING")
	h.run(t, New(testWorkerConfig, 2, logger.Nop(), h.store, h.queue, rec, nil))

	assert.Eventually(t, func() bool { return h.status(t, id) == store.StatusFailed }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.calls)
}

func TestWorkerRequeuesThroughProducer(t *testing.T) {
	h := newHarness()
	requeue := consumer.NewMockConsumer(logger.Nop(), 8)
	h.ledger.FailNextWrite(errors.New("node unreachable"))
	id := h.enqueue(t, "B1", "SEEDING")
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, requeue))

	assert.Eventually(t, func() bool { return requeue.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, store.StatusReceived, h.status(t, id))

	msg, _, err := requeue.Consume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, msg.RequestID)
}

func TestWorkerKeepsBatchOrderAcrossRetries(t *testing.T) {
	h := newHarness()
	h.ledger.FailNextWrite(errors.New("node unreachable"))
	seeding := h.enqueue(t, "B1", "SEEDING")
	watering := h.enqueue(t, "B1", "WATERING")
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, nil))

	for _, id := range []string{seeding, watering} {
		id := id
		assert.Eventually(t, func() bool { return h.status(t, id) == store.StatusCompleted }, 2*time.Second, 10*time.Millisecond)
	}

	history := h.svc.GetBatchActivities(context.Background(), "B1")
	require.Len(t, history, 2)
	assert.Equal(t, "SEEDING", history[0].ActivityType)
	assert.Equal(t, "WATERING", history[1].ActivityType)

	task, err := h.store.GetTask(context.Background(), watering)
	require.NoError(t, err)
	assert.Equal(t, 1, task.RetryCount, "waiting behind SEEDING does not spend a retry")
}

func TestWorkerHoldsBatchAfterUnconfirmedWrite(t *testing.T) {
	h := newHarness()
	h.ledger.LoseNextConfirmation()
	seeding := h.enqueue(t, "B1", "SEEDING")
	watering := h.enqueue(t, "B1", "WATERING")
	other := h.enqueue(t, "B2", "SEEDING")
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, nil))

	assert.Eventually(t, func() bool { return h.status(t, seeding) == store.StatusAmbiguous }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.status(t, other) == store.StatusCompleted }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(h.svc.GetBatchActivities(context.Background(), "B1")) > 1 }, 200*time.Millisecond, 20*time.Millisecond)

	task, err := h.store.GetTask(context.Background(), watering)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReceived, task.Status)
	assert.Zero(t, task.RetryCount)
}

func TestWorkerWaitsForAmbiguousPredecessor(t *testing.T) {
	h := newHarness()
	seeding := h.strand(t, "B1", "SEEDING")
	watering := h.enqueue(t, "B1", "WATERING")
	h.run(t, New(testWorkerConfig, 3, logger.Nop(), h.store, h.queue, h.svc, nil))

	assert.Never(t, func() bool { return h.ledger.Height() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, store.StatusReceived, h.status(t, watering))

	// the reconciler's verdict: the SEEDING write landed
	landed := h.svc.RecordActivity(context.Background(), "B1", anchoring.ActivityData{ActivityType: "SEEDING", IsOrganic: true})
	require.True(t, landed.Confirmed())
	require.NoError(t, h.store.MarkBatchAsCompleted(context.Background(), []store.CompletionRecord{{RequestID: seeding, TxRef: landed.TxRef, BlockHeight: 1}}))

	assert.Eventually(t, func() bool { return h.status(t, watering) == store.StatusCompleted }, 2*time.Second, 10*time.Millisecond)
	history := h.svc.GetBatchActivities(context.Background(), "B1")
	require.Len(t, history, 2)
	assert.Equal(t, "SEEDING", history[0].ActivityType)
	assert.Equal(t, "WATERING", history[1].ActivityType)

	task, err := h.store.GetTask(context.Background(), watering)
	require.NoError(t, err)
	assert.Equal(t, 1, task.RetryCount)
}

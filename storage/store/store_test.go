package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"farmtrace/config"
	"farmtrace/internal/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FARMTRACE_TEST_DSN points the suite at a disposable PostgreSQL database.
const testDSNEnv = "FARMTRACE_TEST_DSN"

func newTask(batchHash, activityType string) *AnchorTask {
	return &AnchorTask{
		RequestID:         uuid.NewString(),
		BatchID:           "B1",
		BatchHash:         batchHash,
		ActivityType:      activityType,
		Quantity:          "1",
		IsOrganic:         true,
		ReceivedTimestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func stores(t *testing.T) map[string]Store {
	out := map[string]Store{"memory": NewMemoryStore()}
	if dsn := os.Getenv(testDSNEnv); dsn != "" {
		cfg := config.DatabaseConfig{DSN: dsn}
		cfg.SetDefaults(logger.Nop())
		require.NoError(t, cfg.Validate())
		pg, err := NewPostgresStore(context.Background(), cfg, logger.Nop())
		require.NoError(t, err)
		t.Cleanup(pg.Close)
		out["postgres"] = pg
	}
	return out
}

// hashFor is unique per call so a shared database does not leak state between runs.
func hashFor(t *testing.T) string {
	t.Helper()
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])
}

func TestClaimLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask(hashFor(t), "SEEDING")
			require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{task}))
			require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{task}), "duplicates are ignored")

			claimed, err := s.GetAndMarkBatchAsProcessing(ctx, []string{task.RequestID, "missing"}, 3)
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			assert.Equal(t, StatusProcessing, claimed[task.RequestID].Status)
			assert.Equal(t, 1, claimed[task.RequestID].RetryCount)

			again, err := s.GetAndMarkBatchAsProcessing(ctx, []string{task.RequestID}, 3)
			require.NoError(t, err)
			assert.Empty(t, again, "a task in flight is not claimed twice")

			require.NoError(t, s.MarkBatchAsCompleted(ctx, []CompletionRecord{{RequestID: task.RequestID, TxRef: "tx-1", BlockHeight: 9}}))
			got, err := s.GetTask(ctx, task.RequestID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
			assert.Equal(t, "tx-1", got.TxRef)
			assert.Equal(t, uint64(9), got.BlockHeight)

			refs, err := s.CompletedTxRefs(ctx, task.BatchHash)
			require.NoError(t, err)
			assert.Contains(t, refs, "tx-1")
		})
	}
}

func TestRetryBudget(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask(hashFor(t), "WATERING")
			require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{task}))

			for i := 1; i <= 2; i++ {
				claimed, err := s.GetAndMarkBatchAsProcessing(ctx, []string{task.RequestID}, 2)
				require.NoError(t, err)
				require.Equal(t, StatusProcessing, claimed[task.RequestID].Status)
				require.NoError(t, s.MarkBatchForRetry(ctx, []string{task.RequestID}, "node unreachable"))
			}

			claimed, err := s.GetAndMarkBatchAsProcessing(ctx, []string{task.RequestID}, 2)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, claimed[task.RequestID].Status)

			got, err := s.GetTask(ctx, task.RequestID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Equal(t, 2, got.RetryCount)
		})
	}
}

func TestAmbiguousTasksAreListedUntilSettled(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask(hashFor(t), "HARVEST")
			require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{task}))
			_, err := s.GetAndMarkBatchAsProcessing(ctx, []string{task.RequestID}, 3)
			require.NoError(t, err)
			require.NoError(t, s.MarkBatchAsAmbiguous(ctx, []FailureRecord{{RequestID: task.RequestID, ErrorMessage: "deadline exceeded"}}))

			listed, err := s.ListUnsettled(ctx, time.Now().Add(-time.Hour), 1000)
			require.NoError(t, err)
			assert.True(t, containsTask(listed, task.RequestID))

			require.NoError(t, s.MarkBatchForRetry(ctx, []string{task.RequestID}, "no ledger record"))
			got, err := s.GetTask(ctx, task.RequestID)
			require.NoError(t, err)
			assert.Equal(t, StatusReceived, got.Status)

			listed, err = s.ListUnsettled(ctx, time.Now().Add(-time.Hour), 1000)
			require.NoError(t, err)
			assert.False(t, containsTask(listed, task.RequestID))
		})
	}
}

func TestSettleOnlyFromProcessing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask(hashFor(t), "PACKED")
			require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{task}))

			require.NoError(t, s.MarkBatchAsFailed(ctx, []FailureRecord{{RequestID: task.RequestID, ErrorMessage: "x"}}))
			got, err := s.GetTask(ctx, task.RequestID)
			require.NoError(t, err)
			assert.Equal(t, StatusReceived, got.Status)

			_, err = s.GetTask(ctx, uuid.NewString())
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	}
}

func TestReleaseGivesBackTheRetry(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := newTask(hashFor(t), "WATERING")
			require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{task}))

			_, err := s.GetAndMarkBatchAsProcessing(ctx, []string{task.RequestID}, 3)
			require.NoError(t, err)
			require.NoError(t, s.ReleaseBatch(ctx, []string{task.RequestID}, "waiting for SEEDING"))

			got, err := s.GetTask(ctx, task.RequestID)
			require.NoError(t, err)
			assert.Equal(t, StatusReceived, got.Status)
			assert.Zero(t, got.RetryCount)
			assert.Equal(t, "waiting for SEEDING", got.ErrorMessage)
		})
	}
}

func TestEarlierUnsettledTasksBlockLaterOnes(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			hash := hashFor(t)
			seeding := newTask(hash, "SEEDING")
			watering := newTask(hash, "WATERING")
			watering.ReceivedTimestamp = seeding.ReceivedTimestamp.Add(time.Second)
			other := newTask(hashFor(t), "SEEDING")
			require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{seeding, watering, other}))

			blocked, err := s.BlockedByPredecessor(ctx, []string{seeding.RequestID, watering.RequestID, other.RequestID})
			require.NoError(t, err)
			assert.Empty(t, blocked, "a predecessor waiting in the same delivery does not block")

			blocked, err = s.BlockedByPredecessor(ctx, []string{watering.RequestID})
			require.NoError(t, err)
			assert.Contains(t, blocked, watering.RequestID)

			_, err = s.GetAndMarkBatchAsProcessing(ctx, []string{seeding.RequestID}, 3)
			require.NoError(t, err)
			require.NoError(t, s.MarkBatchAsAmbiguous(ctx, []FailureRecord{{RequestID: seeding.RequestID, ErrorMessage: "deadline exceeded"}}))

			blocked, err = s.BlockedByPredecessor(ctx, []string{seeding.RequestID, watering.RequestID})
			require.NoError(t, err)
			assert.Contains(t, blocked, watering.RequestID, "an ambiguous predecessor blocks even when redelivered")

			require.NoError(t, s.MarkBatchAsCompleted(ctx, []CompletionRecord{{RequestID: seeding.RequestID, TxRef: "tx-1", BlockHeight: 1}}))
			blocked, err = s.BlockedByPredecessor(ctx, []string{watering.RequestID})
			require.NoError(t, err)
			assert.Empty(t, blocked)
		})
	}
}

func TestMemoryStaleProcessing(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	ctx := context.Background()

	task := newTask(hashFor(t), "SHIPPED")
	require.NoError(t, s.InsertAnchorTaskBatch(ctx, []*AnchorTask{task}))
	_, err := s.GetAndMarkBatchAsProcessing(ctx, []string{task.RequestID}, 3)
	require.NoError(t, err)

	listed, err := s.ListUnsettled(ctx, base.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, listed, "recently claimed tasks are still in flight")

	listed, err = s.ListUnsettled(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, StatusProcessing, listed[0].Status)
}

func containsTask(tasks []*AnchorTask, requestID string) bool {
	for _, t := range tasks {
		if t.RequestID == requestID {
			return true
		}
	}
	return false
}

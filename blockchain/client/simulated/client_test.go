package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"farmtrace/blockchain/types"
	"farmtrace/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func TestWriteAssignsIncreasingBlocks(t *testing.T) {
	c := NewClient(nil, logger.Nop())
	ctx := context.Background()
	h := hashOf("B1")

	r1, err := c.RecordActivity(ctx, h, types.ActivityRecord{ActivityType: "SEEDING", IsOrganic: true})
	require.NoError(t, err)
	r2, err := c.RecordActivity(ctx, h, types.ActivityRecord{ActivityType: "WATERING", IsOrganic: true})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), r1.BlockHeight)
	assert.Equal(t, uint64(2), r2.BlockHeight)
	assert.NotEqual(t, r1.TransactionID, r2.TransactionID)

	records, err := c.GetBatchActivities(ctx, h)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, r1.TransactionID, records[0].TxRef)
	assert.Equal(t, "1", records[0].BlockRef)
	assert.Equal(t, "2", records[1].BlockRef)
	assert.Equal(t, "farmtrace", records[0].Submitter)
}

func TestFailureInjection(t *testing.T) {
	c := NewClient(nil, logger.Nop())
	ctx := context.Background()
	h := hashOf("B2")

	c.FailNextWrite(errors.New("node unreachable"))
	_, err := c.RecordActivity(ctx, h, types.ActivityRecord{ActivityType: "SEEDING"})
	assert.ErrorContains(t, err, "node unreachable")
	assert.Zero(t, c.Height())

	c.LoseNextConfirmation()
	_, err = c.RecordActivity(ctx, h, types.ActivityRecord{ActivityType: "SEEDING"})
	assert.True(t, errors.Is(err, types.ErrConfirmationTimeout))
	assert.Equal(t, uint64(1), c.Height(), "the write still committed")

	c.FailReads(errors.New("query refused"))
	_, err = c.GetOrganicStatus(ctx, h)
	assert.Error(t, err)
	_, err = c.GetTotalActivities(ctx)
	assert.Error(t, err)

	c.FailReads(nil)
	total, err := c.GetTotalActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
}

func TestConcurrentWrites(t *testing.T) {
	c := NewClient(nil, logger.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RecordActivity(ctx, hashOf("shared"), types.ActivityRecord{ActivityType: "WATERING"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total, err := c.GetTotalActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), total)
	assert.Equal(t, uint64(20), c.Height())
}

func TestCancelledContextDoesNotSubmit(t *testing.T) {
	c := NewClient(nil, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RecordActivity(ctx, hashOf("B3"), types.ActivityRecord{ActivityType: "SEEDING"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrConfirmationTimeout))
	assert.Zero(t, c.Height())
}

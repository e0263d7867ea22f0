package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"farmtrace/anchoring"
	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/consumer"
	"farmtrace/internal/messaging/producer"
	"farmtrace/internal/models"
	"farmtrace/statemachine/journey"
	"farmtrace/storage/store"
)

// ActivityRecorder anchors one activity. *anchoring.Service satisfies it.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, batchID string, data anchoring.ActivityData) anchoring.RecordResult
}

// Worker processes messages in batches
type Worker struct {
	workerConfig       config.WorkerConfig
	batchTimeout       time.Duration // Parsed from workerConfig.BatchTimeout
	consumerRetryDelay time.Duration // Parsed from workerConfig.ConsumerRetryDelay
	blockchainTimeout  time.Duration // Parsed from workerConfig.BlockchainTimeout

	maxTaskRetries int // Business rule for maximum task retries
	logger         *logger.Logger
	store          store.Store
	consumer       consumer.Consumer
	recorder       ActivityRecorder
	requeue        producer.Producer
}

// New creates a new Worker instance. When requeue is non-nil, messages whose write failed
// are re-published and acknowledged; otherwise they are nacked for redelivery.
func New(cfg config.WorkerConfig, maxTaskRetries int, log *logger.Logger, s store.Store, c consumer.Consumer, r ActivityRecorder, requeue producer.Producer) *Worker {
	log = log.Named("worker")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Worker{
		workerConfig:       cfg,
		batchTimeout:       parseDuration(log, "batch_timeout", cfg.BatchTimeout, time.Second),
		consumerRetryDelay: parseDuration(log, "consumer_retry_delay", cfg.ConsumerRetryDelay, 5*time.Second),
		blockchainTimeout:  parseDuration(log, "blockchain_timeout", cfg.BlockchainTimeout, 30*time.Second),
		maxTaskRetries:     maxTaskRetries,
		logger:             log,
		store:              s,
		consumer:           c,
		recorder:           r,
		requeue:            requeue,
	}
}

func parseDuration(log *logger.Logger, name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Warn("Invalid duration, using default", "setting", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

// Run starts the worker pool and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Starting worker pool",
		"concurrency", w.workerConfig.Concurrency,
		"batch_size", w.workerConfig.BatchSize,
		"batch_timeout", w.batchTimeout)
	var wg sync.WaitGroup
	for i := 0; i < w.workerConfig.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.logger.Info("Worker started", "worker_id", workerID)
			w.processMessagesInBatch(ctx, workerID)
			w.logger.Info("Worker stopped", "worker_id", workerID)
		}(i + 1)
	}
	wg.Wait()
	w.logger.Info("Worker pool stopped")
}

// processMessagesInBatch is the main loop for a worker goroutine
func (w *Worker) processMessagesInBatch(ctx context.Context, workerID int) {
	batchMessages := make([]*models.ActivityMessage, 0, w.workerConfig.BatchSize)
	acks := make([]func(success bool), 0, w.workerConfig.BatchSize)
	batchTimer := time.NewTimer(0) // Start with stopped timer
	if !batchTimer.Stop() {
		select {
		case <-batchTimer.C:
		default:
		}
	}
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batchMessages) == 0 {
			return
		}
		if !batchTimer.Stop() {
			select {
			case <-batchTimer.C:
			default:
			}
		}

		if retried := w.processAndAckBatch(ctx, workerID, batchMessages, acks); retried > 0 {
			w.backoff(ctx)
		}

		batchMessages = make([]*models.ActivityMessage, 0, w.workerConfig.BatchSize)
		acks = make([]func(success bool), 0, w.workerConfig.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			for _, ack := range acks {
				ack(false)
			}
			return

		case <-batchTimer.C:
			processBatch()

		default:
			consumeCtx, consumeCancel := context.WithTimeout(ctx, 100*time.Millisecond)
			msg, ack, err := w.consumer.Consume(consumeCtx)
			consumeCancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				w.logger.Error("Consumer error", "worker_id", workerID, "error", err)
				if errors.Is(err, consumer.ErrQueueClosed) {
					processBatch()
					return
				}
				w.backoff(ctx)
				continue
			}

			if msg != nil {
				if len(batchMessages) == 0 {
					batchTimer.Reset(w.batchTimeout)
				}
				batchMessages = append(batchMessages, msg)
				acks = append(acks, ack)

				if len(batchMessages) >= w.workerConfig.BatchSize {
					processBatch()
				}
			}
		}
	}
}

func (w *Worker) backoff(ctx context.Context) {
	t := time.NewTimer(w.consumerRetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// processAndAckBatch settles every message individually and returns how many were sent back for retry.
func (w *Worker) processAndAckBatch(ctx context.Context, workerID int, batch []*models.ActivityMessage, acks []func(success bool)) int {
	retry, err := w.handleBatch(ctx, batch)
	if err != nil {
		w.logger.Error("Batch failed, nacking all messages", "worker_id", workerID, "count", len(acks), "error", err)
		for _, ack := range acks {
			ack(false)
		}
		return len(acks)
	}

	var requeued []*models.ActivityMessage
	for i, msg := range batch {
		if _, again := retry[msg.RequestID]; !again {
			acks[i](true)
			continue
		}
		if w.requeue == nil {
			acks[i](false)
			continue
		}
		requeued = append(requeued, msg)
	}
	if len(requeued) == 0 {
		return len(retry)
	}

	if err := w.requeue.PublishBatch(ctx, requeued); err != nil {
		w.logger.Error("Re-publishing failed, nacking", "worker_id", workerID, "count", len(requeued), "error", err)
		for i, msg := range batch {
			if _, again := retry[msg.RequestID]; again {
				acks[i](false)
			}
		}
		return len(retry)
	}
	for i, msg := range batch {
		if _, again := retry[msg.RequestID]; again {
			acks[i](true)
		}
	}
	return len(retry)
}

// handleBatch claims the batch's tasks, anchors each claimed task in message order and records
// the outcomes. It returns the request IDs that should be delivered again.
//
// Activities of one farm batch reach the ledger in the order they were received: a task waits
// while an earlier task of its batch is unsettled, and once a write of a batch is not confirmed
// the rest of that batch in this delivery is released untouched.
func (w *Worker) handleBatch(ctx context.Context, batch []*models.ActivityMessage) (map[string]struct{}, error) {
	batchStart := time.Now()

	requestIDs := make([]string, 0, len(batch))
	for _, msg := range batch {
		if msg.RequestID != "" {
			requestIDs = append(requestIDs, msg.RequestID)
		}
	}
	if len(requestIDs) == 0 {
		return nil, nil
	}

	// --- 1. Hold back tasks queued behind an unsettled write ---
	dbStart := time.Now()
	waiting, err := w.store.BlockedByPredecessor(ctx, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("DB error: BlockedByPredecessor failed: %w", err)
	}
	retry := make(map[string]struct{}, len(waiting))
	claimIDs := make([]string, 0, len(requestIDs))
	for _, id := range requestIDs {
		if _, ok := waiting[id]; ok {
			retry[id] = struct{}{}
			continue
		}
		claimIDs = append(claimIDs, id)
	}
	if len(waiting) > 0 {
		w.logger.Info("Deferring activities behind an unsettled earlier write", "count", len(waiting))
	}

	// --- 2. Claim tasks ---
	claimed := map[string]*store.AnchorTask{}
	if len(claimIDs) > 0 {
		claimed, err = w.store.GetAndMarkBatchAsProcessing(ctx, claimIDs, w.maxTaskRetries)
		if err != nil {
			return nil, fmt.Errorf("DB error: GetAndMarkBatchAsProcessing failed: %w", err)
		}
	}
	dbQueryDuration := time.Since(dbStart)

	// --- 3. Anchor ---
	var (
		completions []store.CompletionRecord
		failures    []store.FailureRecord
		ambiguous   []store.FailureRecord
		retryIDs    []string
		retryMsgs   []string
		released    []string
	)
	held := make(map[string]struct{})
	bcStart := time.Now()

	for _, msg := range batch {
		task, ok := claimed[msg.RequestID]
		if !ok || task.Status != store.StatusProcessing {
			// unknown, deferred, already settled, or out of retries: nothing to write
			continue
		}
		if _, ok := held[msg.BatchID]; ok {
			released = append(released, msg.RequestID)
			retry[msg.RequestID] = struct{}{}
			continue
		}

		invokeCtx, cancel := context.WithTimeout(ctx, w.blockchainTimeout)
		res := w.recorder.RecordActivity(invokeCtx, msg.BatchID, anchoring.ActivityData{
			ActivityType: journey.Activity(msg.ActivityType),
			ProductName:  msg.ProductName,
			Quantity:     msg.Quantity,
			IsOrganic:    msg.IsOrganic,
			EvidenceRef:  msg.EvidenceRef,
		})
		cancel()

		switch {
		case res.Outcome == anchoring.OutcomeConfirmed:
			height, _ := parseBlockRef(res.BlockRef)
			completions = append(completions, store.CompletionRecord{
				RequestID:   msg.RequestID,
				TxRef:       res.TxRef,
				BlockHeight: height,
			})
		case res.Outcome == anchoring.OutcomeAmbiguous:
			ambiguous = append(ambiguous, store.FailureRecord{RequestID: msg.RequestID, ErrorMessage: errText(res.Err)})
			held[msg.BatchID] = struct{}{}
		case anchoring.IsValidation(res.Err):
			failures = append(failures, store.FailureRecord{RequestID: msg.RequestID, ErrorMessage: errText(res.Err)})
		default:
			retryIDs = append(retryIDs, msg.RequestID)
			retryMsgs = append(retryMsgs, errText(res.Err))
			retry[msg.RequestID] = struct{}{}
			held[msg.BatchID] = struct{}{}
		}
	}
	bcDuration := time.Since(bcStart)

	// --- 4. Record outcomes ---
	dbUpdateStart := time.Now()
	if err := w.store.MarkBatchAsCompleted(ctx, completions); err != nil {
		w.logger.Error("CRITICAL: MarkBatchAsCompleted failed", "count", len(completions), "error", err)
	}
	if err := w.store.MarkBatchAsFailed(ctx, failures); err != nil {
		w.logger.Error("MarkBatchAsFailed failed", "count", len(failures), "error", err)
	}
	if err := w.store.MarkBatchAsAmbiguous(ctx, ambiguous); err != nil {
		w.logger.Error("CRITICAL: MarkBatchAsAmbiguous failed", "count", len(ambiguous), "error", err)
	}
	if len(retryIDs) > 0 {
		if err := w.store.MarkBatchForRetry(ctx, retryIDs, retryMsgs[0]); err != nil {
			w.logger.Error("CRITICAL: MarkBatchForRetry failed", "count", len(retryIDs), "error", err)
		}
	}
	if len(released) > 0 {
		if err := w.store.ReleaseBatch(ctx, released, "an earlier activity of the batch was not anchored"); err != nil {
			w.logger.Error("CRITICAL: ReleaseBatch failed", "count", len(released), "error", err)
		}
	}
	dbUpdateDuration := time.Since(dbUpdateStart)

	w.logger.Info("Batch performance",
		"size", len(batch),
		"claimed", len(claimed),
		"deferred", len(waiting),
		"completed", len(completions),
		"failed", len(failures),
		"ambiguous", len(ambiguous),
		"retry", len(retryIDs),
		"released", len(released),
		"db_query", dbQueryDuration,
		"db_updates", dbUpdateDuration,
		"blockchain", bcDuration,
		"total", time.Since(batchStart))

	return retry, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package tracking

import (
	"context"
	"sync"
	"time"

	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/producer"
	"farmtrace/internal/models"
	"farmtrace/storage/store"
)

// BatchProcessor groups anchoring requests so that task rows and queue messages
// are written in bulk. A batch is flushed when it reaches batchSize or when the
// timer fires, whichever comes first.
type BatchProcessor struct {
	batchSize     int
	batchTimeout  time.Duration
	maxBufferSize int
	logger        *logger.Logger
	store         store.Store
	producer      producer.Producer

	// Buffers
	buffer      []*batchEntry
	bufferMutex sync.Mutex
	closed      bool
	flushChan   chan []*batchEntry

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type batchEntry struct {
	task *store.AnchorTask
	msg  *models.ActivityMessage
}

// NewBatchProcessor creates a new batch processor and starts its goroutines.
func NewBatchProcessor(batchSize int, batchTimeout time.Duration, maxBufferSize, flushChannelBuffer int,
	s store.Store, p producer.Producer, log *logger.Logger) *BatchProcessor {

	if batchSize <= 0 {
		batchSize = 100
	}
	if maxBufferSize < batchSize {
		maxBufferSize = batchSize
	}
	ctx, cancel := context.WithCancel(context.Background())

	bp := &BatchProcessor{
		batchSize:     batchSize,
		batchTimeout:  batchTimeout,
		maxBufferSize: maxBufferSize,
		logger:        log.Named("batch-processor"),
		store:         s,
		producer:      p,
		buffer:        make([]*batchEntry, 0, batchSize),
		flushChan:     make(chan []*batchEntry, flushChannelBuffer),
		ctx:           ctx,
		cancel:        cancel,
	}

	bp.wg.Add(2)
	go bp.batchTimer()
	go bp.batchProcessor()

	return bp
}

// Submit adds a request to the current batch. It fails without buffering when the
// processor is closed or maxBufferSize requests are already waiting.
func (bp *BatchProcessor) Submit(task *store.AnchorTask, msg *models.ActivityMessage) error {
	bp.bufferMutex.Lock()
	if bp.closed {
		bp.bufferMutex.Unlock()
		return ErrBacklogFull.Clone().WithMetadata(map[string]any{"reason": "closed"})
	}
	if len(bp.buffer) >= bp.maxBufferSize {
		bp.bufferMutex.Unlock()
		return ErrBacklogFull.Clone().WithMetadata(map[string]any{"buffered": bp.maxBufferSize})
	}
	bp.buffer = append(bp.buffer, &batchEntry{task: task, msg: msg})
	shouldFlush := len(bp.buffer) >= bp.batchSize
	bp.bufferMutex.Unlock()

	if shouldFlush {
		bp.flushIfNeeded()
	}
	return nil
}

// Pending is the number of buffered requests not yet handed to the flusher.
func (bp *BatchProcessor) Pending() int {
	bp.bufferMutex.Lock()
	defer bp.bufferMutex.Unlock()
	return len(bp.buffer)
}

// batchTimer handles periodic flushing
func (bp *BatchProcessor) batchTimer() {
	defer bp.wg.Done()

	ticker := time.NewTicker(bp.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bp.flushIfNeeded()
		case <-bp.ctx.Done():
			return
		}
	}
}

// batchProcessor handles actual batch processing
func (bp *BatchProcessor) batchProcessor() {
	defer bp.wg.Done()

	for {
		select {
		case batch := <-bp.flushChan:
			bp.processBatch(batch)
		case <-bp.ctx.Done():
			// Close marks the processor closed before cancelling, so nothing new can be
			// buffered once the lock is held here.
			bp.bufferMutex.Lock()
			var remaining [][]*batchEntry
			for drained := false; !drained; {
				select {
				case batch := <-bp.flushChan:
					remaining = append(remaining, batch)
				default:
					drained = true
				}
			}
			remaining = append(remaining, bp.buffer)
			bp.buffer = nil
			bp.bufferMutex.Unlock()

			for _, batch := range remaining {
				bp.processBatch(batch)
			}
			return
		}
	}
}

// flushIfNeeded hands the buffer to the flusher if it has entries. When the flush
// channel is full the entries stay buffered for the next tick.
func (bp *BatchProcessor) flushIfNeeded() {
	bp.bufferMutex.Lock()
	defer bp.bufferMutex.Unlock()
	if len(bp.buffer) == 0 {
		return
	}

	batch := make([]*batchEntry, len(bp.buffer))
	copy(batch, bp.buffer)

	select {
	case bp.flushChan <- batch:
		bp.buffer = bp.buffer[:0]
	default:
		bp.logger.Warn("Flush channel full, will flush on next timer", "count", len(batch))
	}
}

// processBatch inserts the task rows, then publishes the messages. Messages are
// never published for rows that were not stored.
func (bp *BatchProcessor) processBatch(batch []*batchEntry) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	tasks := make([]*store.AnchorTask, len(batch))
	msgs := make([]*models.ActivityMessage, len(batch))
	for i, e := range batch {
		tasks[i] = e.task
		msgs[i] = e.msg
	}

	// Fresh context: the processor's own context is already cancelled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbStart := time.Now()
	if err := bp.store.InsertAnchorTaskBatch(ctx, tasks); err != nil {
		bp.logger.Error("Batch task insert failed, dropping requests", "count", len(batch), "error", err)
		return
	}
	dbDuration := time.Since(dbStart)

	kafkaStart := time.Now()
	if err := bp.producer.PublishBatch(ctx, msgs); err != nil {
		bp.logger.Error("Batch publish failed; tasks remain RECEIVED without a message",
			"count", len(batch), "first_request_id", msgs[0].RequestID, "error", err)
		return
	}
	kafkaDuration := time.Since(kafkaStart)

	bp.logger.Debug("Batch processed",
		"count", len(batch),
		"db", dbDuration,
		"publish", kafkaDuration,
		"total", time.Since(start))
}

// Close stops accepting requests, flushes everything buffered and waits for the flusher.
func (bp *BatchProcessor) Close() {
	bp.bufferMutex.Lock()
	if bp.closed {
		bp.bufferMutex.Unlock()
		return
	}
	bp.closed = true
	bp.bufferMutex.Unlock()

	bp.cancel()
	bp.wg.Wait()
}

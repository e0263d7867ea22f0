// Package tracking is the caller side of the ledger bridge: it enforces legal
// activity sequencing on a batch, advances the batch, and queues the activity
// for anchoring by the engine.
package tracking

import (
	"context"
	"math"
	"strings"
	"time"

	"farmtrace/anchoring"
	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/producer"
	"farmtrace/internal/models"
	"farmtrace/statemachine/journey"
	"farmtrace/statemachine/order"
	"farmtrace/storage/store"

	"github.com/google/uuid"
)

// Receipt acknowledges an accepted activity. Anchoring happens later; RequestID
// identifies the anchoring task.
type Receipt struct {
	RequestID  string
	BatchHash  string
	State      journey.State
	ReceivedAt time.Time
}

// Service encapsulates the tracking flow
type Service struct {
	logger         *logger.Logger
	batchProcessor *BatchProcessor
}

// NewService creates a new Service instance with configuration
func NewService(s store.Store, p producer.Producer, cfg config.BatchProcessorConfig, log *logger.Logger) *Service {
	log = log.Named("tracking")
	return &Service{
		logger: log,
		batchProcessor: NewBatchProcessor(cfg.BatchSize, cfg.BatchTimeout, cfg.MaxBufferSize, cfg.FlushChannelBuffer,
			s, p, log),
	}
}

// RecordActivity checks that a is legal from the batch's current state, appends it,
// advances the batch and queues it for anchoring. On any error the batch is untouched.
func (s *Service) RecordActivity(ctx context.Context, b *models.Batch, a models.Activity) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b == nil || strings.TrimSpace(b.ID) == "" {
		return nil, reject("batch with an id is required", nil, nil)
	}
	meta := map[string]any{"batch_id": b.ID, "state": string(b.CurrentState), "activity_type": string(a.Type)}

	if math.IsNaN(a.Quantity) || math.IsInf(a.Quantity, 0) || a.Quantity < 0 {
		return nil, reject("quantity must be a finite non-negative number", nil, meta)
	}
	next, err := journey.Apply(b.CurrentState, a.Type)
	if err != nil {
		return nil, reject("activity is not allowed in the batch's current state", err, meta)
	}

	receivedAt := time.Now().UTC()
	if a.Timestamp.IsZero() {
		a.Timestamp = receivedAt
	}

	requestID := uuid.NewString()
	hash := anchoring.BatchIdentifierHash(b.ID)
	task := &store.AnchorTask{
		RequestID:         requestID,
		BatchID:           b.ID,
		BatchHash:         hash,
		ActivityType:      string(a.Type),
		ProductName:       a.ProductName,
		Quantity:          anchoring.FormatQuantity(a.Quantity),
		IsOrganic:         a.IsOrganic,
		EvidenceRef:       a.EvidenceRef,
		ReceivedTimestamp: receivedAt,
		Status:            store.StatusReceived,
	}
	msg := &models.ActivityMessage{
		RequestID:    requestID,
		BatchID:      b.ID,
		ActivityType: string(a.Type),
		ProductName:  a.ProductName,
		Quantity:     a.Quantity,
		IsOrganic:    a.IsOrganic,
		EvidenceRef:  a.EvidenceRef,
		OccurredAt:   a.Timestamp.Format(time.RFC3339Nano),
	}
	if err := s.batchProcessor.Submit(task, msg); err != nil {
		s.logger.Warn("Anchoring request not queued", "batch_id", b.ID, "error", err)
		return nil, err
	}

	b.Activities = append(b.Activities, a)
	b.CurrentState = next

	s.logger.Debug("Activity accepted",
		"batch_id", b.ID, "activity_type", a.Type, "state", next, "request_id", requestID)
	return &Receipt{RequestID: requestID, BatchHash: hash, State: next, ReceivedAt: receivedAt}, nil
}

// AdvanceOrder applies e to the order. An illegal event leaves the order untouched.
func (s *Service) AdvanceOrder(o *models.Order, e order.Event) error {
	if o == nil {
		return reject("order is required", nil, nil)
	}
	from := o.CurrentState
	if err := o.Advance(e); err != nil {
		return reject("order event is not allowed in the order's current state", err,
			map[string]any{"order_id": o.ID, "state": string(from), "event": string(e)})
	}
	s.logger.Debug("Order advanced", "order_id", o.ID, "from", from, "to", o.CurrentState)
	return nil
}

// Close flushes every queued anchoring request.
func (s *Service) Close() {
	s.batchProcessor.Close()
}

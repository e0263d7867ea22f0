// Package store persists anchoring tasks: one row per activity awaiting, undergoing
// or finished with a ledger write.
package store

import (
	"context"
	"errors"
	"time"

	"farmtrace/config"
	"farmtrace/internal/logger"
)

// TaskStatus is the lifecycle of an anchoring task.
type TaskStatus string

const (
	StatusReceived   TaskStatus = "RECEIVED"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
	// StatusAmbiguous marks a write that was submitted but never confirmed. Only the
	// reconciler moves a task out of this state.
	StatusAmbiguous TaskStatus = "AMBIGUOUS"
)

// unsettled reports whether a task may still be written to the ledger.
func (s TaskStatus) unsettled() bool {
	return s == StatusReceived || s == StatusProcessing || s == StatusAmbiguous
}

// precedes orders tasks of one batch by receipt.
func (t *AnchorTask) precedes(other *AnchorTask) bool {
	if !t.ReceivedTimestamp.Equal(other.ReceivedTimestamp) {
		return t.ReceivedTimestamp.Before(other.ReceivedTimestamp)
	}
	return t.RequestID < other.RequestID
}

// ErrTaskNotFound is returned by GetTask for unknown request IDs.
var ErrTaskNotFound = errors.New("anchor task not found")

// AnchorTask is the persisted form of an anchoring request.
type AnchorTask struct {
	RequestID         string
	BatchID           string
	BatchHash         string
	ActivityType      string
	ProductName       string
	Quantity          string
	IsOrganic         bool
	EvidenceRef       string
	ReceivedTimestamp time.Time
	Status            TaskStatus
	RetryCount        int
	TxRef             string
	BlockHeight       uint64
	ErrorMessage      string
	UpdatedAt         time.Time
}

// CompletionRecord settles a task with its on-chain reference.
type CompletionRecord struct {
	RequestID   string
	TxRef       string
	BlockHeight uint64
}

// FailureRecord settles a task with a diagnostic.
type FailureRecord struct {
	RequestID    string
	ErrorMessage string
}

// Store is the anchoring task repository shared by the tracking service, the engine and the reconciler.
type Store interface {
	// InsertAnchorTaskBatch stores new tasks in RECEIVED state. Existing request IDs are left untouched.
	InsertAnchorTaskBatch(ctx context.Context, tasks []*AnchorTask) error

	// GetAndMarkBatchAsProcessing claims RECEIVED tasks. A task whose retry count has reached
	// maxRetries is marked FAILED instead and returned with that status. Tasks in any other
	// state are omitted from the result.
	GetAndMarkBatchAsProcessing(ctx context.Context, requestIDs []string, maxRetries int) (map[string]*AnchorTask, error)

	MarkBatchAsCompleted(ctx context.Context, records []CompletionRecord) error
	MarkBatchAsFailed(ctx context.Context, records []FailureRecord) error
	MarkBatchAsAmbiguous(ctx context.Context, records []FailureRecord) error

	// MarkBatchForRetry returns PROCESSING or AMBIGUOUS tasks to RECEIVED.
	MarkBatchForRetry(ctx context.Context, requestIDs []string, errorMessage string) error

	// ReleaseBatch returns PROCESSING tasks that were claimed but never written to RECEIVED,
	// giving back the retry the claim spent.
	ReleaseBatch(ctx context.Context, requestIDs []string, reason string) error

	// BlockedByPredecessor returns the request IDs that have an earlier task of the same batch
	// (by received timestamp, then request ID) still RECEIVED, PROCESSING or AMBIGUOUS.
	// RECEIVED predecessors that are themselves listed in requestIDs do not block.
	BlockedByPredecessor(ctx context.Context, requestIDs []string) (map[string]struct{}, error)

	// ListUnsettled returns AMBIGUOUS tasks and PROCESSING tasks not updated since staleBefore,
	// oldest first.
	ListUnsettled(ctx context.Context, staleBefore time.Time, limit int) ([]*AnchorTask, error)

	// CompletedTxRefs returns the tx references already credited to completed tasks of a batch.
	CompletedTxRefs(ctx context.Context, batchHash string) (map[string]struct{}, error)

	GetTask(ctx context.Context, requestID string) (*AnchorTask, error)

	Close()
}

// New opens the store selected by the database configuration.
func New(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (Store, error) {
	if cfg.IsMemory() {
		log.Warn("Using in-memory task store; tasks do not survive restarts")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, cfg, log)
}

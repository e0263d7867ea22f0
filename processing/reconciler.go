package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"farmtrace/anchoring"
	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/producer"
	"farmtrace/internal/models"
	"farmtrace/storage/store"

	"github.com/robfig/cron/v3"
)

// HistoryReader is the strict ledger read the reconciler depends on. *anchoring.Service satisfies it.
type HistoryReader interface {
	FetchBatchActivities(ctx context.Context, batchID string) ([]anchoring.ActivityRecord, error)
}

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	Examined  int
	Completed int
	Requeued  int
	Deferred  int
}

// Reconciler settles tasks whose ledger outcome was never observed: tasks left AMBIGUOUS by the
// worker and PROCESSING tasks abandoned by a crashed worker. A task is completed when the ledger
// holds a matching record; otherwise, once the grace window has passed, it is sent back for retry.
type Reconciler struct {
	store       store.Store
	ledger      HistoryReader
	requeue     producer.Producer
	logger      *logger.Logger
	schedule    string
	graceWindow time.Duration
	clockSkew   time.Duration
	readTimeout time.Duration
	batchLimit  int
	now         func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler parses cfg. requeue may be nil when the caller re-delivers RECEIVED tasks by other means.
func NewReconciler(cfg config.ReconcilerConfig, s store.Store, ledger HistoryReader, requeue producer.Producer, log *logger.Logger) (*Reconciler, error) {
	grace, err := time.ParseDuration(cfg.GraceWindow)
	if err != nil {
		return nil, fmt.Errorf("invalid grace_window %q: %w", cfg.GraceWindow, err)
	}
	skew, err := time.ParseDuration(cfg.ClockSkew)
	if err != nil {
		return nil, fmt.Errorf("invalid clock_skew %q: %w", cfg.ClockSkew, err)
	}
	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout %q: %w", cfg.ReadTimeout, err)
	}
	return &Reconciler{
		store:       s,
		ledger:      ledger,
		requeue:     requeue,
		logger:      log.Named("reconciler"),
		schedule:    cfg.Schedule,
		graceWindow: grace,
		clockSkew:   skew,
		readTimeout: readTimeout,
		batchLimit:  cfg.BatchLimit,
		now:         time.Now,
	}, nil
}

// Start runs RunOnce on the configured schedule until ctx is cancelled or Stop is called.
// Overlapping runs are skipped.
func (r *Reconciler) Start(ctx context.Context) error {
	cl := cronLogger{r.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid reconciler schedule %q: %w", r.schedule, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	c.Start()
	r.logger.Info("Reconciler scheduled", "schedule", r.schedule, "grace_window", r.graceWindow)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
		r.logger.Info("Reconciler stopped")
	}
}

// RunOnce examines up to batchLimit unsettled tasks.
func (r *Reconciler) RunOnce(ctx context.Context) ReconcileReport {
	var report ReconcileReport
	now := r.now()
	expired := now.Add(-r.graceWindow)

	tasks, err := r.store.ListUnsettled(ctx, expired, r.batchLimit)
	if err != nil {
		r.logger.Error("Listing unsettled tasks failed", "error", err)
		return report
	}

	claimedRefs := make(map[string]map[string]struct{})
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		report.Examined++
		log := r.logger.With("request_id", task.RequestID, "batch_id", task.BatchID, "status", task.Status)

		used, ok := claimedRefs[task.BatchHash]
		if !ok {
			used, err = r.store.CompletedTxRefs(ctx, task.BatchHash)
			if err != nil {
				log.Error("Reading completed tx refs failed", "error", err)
				report.Deferred++
				continue
			}
			claimedRefs[task.BatchHash] = used
		}

		readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
		history, err := r.ledger.FetchBatchActivities(readCtx, task.BatchID)
		cancel()
		if err != nil {
			// never guess: an unreadable ledger leaves the task where it is
			log.Warn("Ledger unreadable, deferring", "error", err)
			report.Deferred++
			continue
		}

		if rec, found := r.match(task, history, used); found {
			height, _ := parseBlockRef(rec.BlockRef)
			if err := r.store.MarkBatchAsCompleted(ctx, []store.CompletionRecord{{
				RequestID: task.RequestID, TxRef: rec.TxRef, BlockHeight: height,
			}}); err != nil {
				log.Error("Completing task failed", "error", err)
				report.Deferred++
				continue
			}
			used[rec.TxRef] = struct{}{}
			report.Completed++
			log.Info("Task settled from ledger record", "tx_ref", rec.TxRef, "block_ref", rec.BlockRef)
			continue
		}

		if task.UpdatedAt.After(expired) {
			report.Deferred++
			continue
		}

		if err := r.store.MarkBatchForRetry(ctx, []string{task.RequestID}, "no ledger record found after grace window"); err != nil {
			log.Error("Returning task for retry failed", "error", err)
			report.Deferred++
			continue
		}
		report.Requeued++
		if r.requeue != nil {
			if err := r.requeue.Publish(ctx, messageFor(task)); err != nil {
				log.Error("Re-publishing task failed; task is RECEIVED without a message", "error", err)
				continue
			}
		}
		log.Info("Task returned for retry")
	}

	if report.Examined > 0 {
		r.logger.Info("Reconciliation pass finished",
			"examined", report.Examined,
			"completed", report.Completed,
			"requeued", report.Requeued,
			"deferred", report.Deferred)
	}
	return report
}

// match finds the earliest ledger record not yet credited to another task that carries
// the task's payload and was stamped no earlier than its receipt, allowing for clock skew.
func (r *Reconciler) match(task *store.AnchorTask, history []anchoring.ActivityRecord, used map[string]struct{}) (anchoring.ActivityRecord, bool) {
	notBefore := task.ReceivedTimestamp.Add(-r.clockSkew)
	for _, rec := range history {
		if _, taken := used[rec.TxRef]; taken {
			continue
		}
		if rec.ActivityType != task.ActivityType ||
			rec.ProductName != task.ProductName ||
			rec.Quantity != task.Quantity ||
			rec.IsOrganic != task.IsOrganic ||
			rec.EvidenceRef != task.EvidenceRef {
			continue
		}
		if rec.Timestamp.Before(notBefore) {
			continue
		}
		return rec, true
	}
	return anchoring.ActivityRecord{}, false
}

func messageFor(task *store.AnchorTask) *models.ActivityMessage {
	quantity, _ := strconv.ParseFloat(task.Quantity, 64)
	return &models.ActivityMessage{
		RequestID:    task.RequestID,
		BatchID:      task.BatchID,
		ActivityType: task.ActivityType,
		ProductName:  task.ProductName,
		Quantity:     quantity,
		IsOrganic:    task.IsOrganic,
		EvidenceRef:  task.EvidenceRef,
		OccurredAt:   task.ReceivedTimestamp.Format(time.RFC3339Nano),
	}
}

func parseBlockRef(ref string) (uint64, error) {
	if ref == "" {
		return 0, nil
	}
	return strconv.ParseUint(ref, 10, 64)
}

// cronLogger adapts the zap wrapper to cron.Logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

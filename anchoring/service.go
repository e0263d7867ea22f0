// Package anchoring writes batch activities to the ledger and reads back the
// ledger's view of a batch. The ledger read path is the only authoritative
// source of a batch's organic status.
package anchoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	blockchain "farmtrace/blockchain/client"
	"farmtrace/blockchain/types"
	"farmtrace/internal/logger"
	"farmtrace/statemachine/journey"
)

// Outcome tags the result of a write.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAmbiguous Outcome = "ambiguous"
)

// ActivityData is one activity to anchor.
type ActivityData struct {
	ActivityType journey.Activity
	ProductName  string
	Quantity     float64
	IsOrganic    bool
	EvidenceRef  string
}

// RecordResult describes a write. TxRef, BlockRef and ExplorerURL are set only when confirmed.
type RecordResult struct {
	Outcome     Outcome
	TxRef       string
	BlockRef    string
	ExplorerURL string
	Err         error
}

func (r RecordResult) Confirmed() bool { return r.Outcome == OutcomeConfirmed }

// ActivityRecord is the ledger's record of an activity with its timestamp decoded.
type ActivityRecord struct {
	ActivityType string
	ProductName  string
	Quantity     string
	IsOrganic    bool
	Timestamp    time.Time
	EvidenceRef  string
	Submitter    string
	TxRef        string
	BlockRef     string
}

// OrganicStatus is the ledger's verdict. Verified is false when the ledger could not be read,
// in which case IsOrganic is false and carries no meaning.
type OrganicStatus struct {
	IsOrganic     bool
	ActivityCount uint64
	Verified      bool
	Err           error
}

// TotalCount separates a zero counter from an unreadable one.
type TotalCount struct {
	Count uint64
	Known bool
	Err   error
}

func (t TotalCount) String() string {
	return strconv.FormatUint(t.Count, 10)
}

// BatchIdentifierHash is the lowercase hex SHA-256 of the batch ID. Every process derives the same key.
func BatchIdentifierHash(batchID string) string {
	sum := sha256.Sum256([]byte(batchID))
	return hex.EncodeToString(sum[:])
}

// FormatQuantity renders a quantity the way it is stored on the ledger.
func FormatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// Service anchors activities through an injected ledger client.
// It adds no timeout of its own; callers bound each call through ctx.
type Service struct {
	client              blockchain.LedgerClient
	explorerURLTemplate string
	logger              *logger.Logger
}

// NewService creates the service. explorerURLTemplate may be empty; otherwise its "%s" is replaced by the tx reference.
func NewService(client blockchain.LedgerClient, explorerURLTemplate string, log *logger.Logger) *Service {
	return &Service{
		client:              client,
		explorerURLTemplate: explorerURLTemplate,
		logger:              log.Named("anchoring"),
	}
}

func (s *Service) GetBatchIdentifierHash(batchID string) string {
	return BatchIdentifierHash(batchID)
}

// ExplorerURL renders the explorer link for a transaction, or "" when no template is configured.
func (s *Service) ExplorerURL(txRef string) string {
	if s.explorerURLTemplate == "" || txRef == "" {
		return ""
	}
	return strings.Replace(s.explorerURLTemplate, "%s", txRef, 1)
}

func validate(batchID string, data ActivityData) error {
	meta := map[string]any{"batch_id": batchID, "activity_type": string(data.ActivityType)}
	if strings.TrimSpace(batchID) == "" {
		return newError(ErrValidation, "batch id is required", nil, meta)
	}
	if _, ok := journey.ParseActivity(string(data.ActivityType)); !ok {
		return newError(ErrValidation, fmt.Sprintf("unknown activity type %q", data.ActivityType), nil, meta)
	}
	if math.IsNaN(data.Quantity) || math.IsInf(data.Quantity, 0) || data.Quantity < 0 {
		return newError(ErrValidation, fmt.Sprintf("quantity must be a finite non-negative number, got %v", data.Quantity), nil, meta)
	}
	return nil
}

// RecordActivity submits one activity and waits for confirmation. It never returns an error:
// every failure is folded into the result. Each call is an independent submission.
func (s *Service) RecordActivity(ctx context.Context, batchID string, data ActivityData) RecordResult {
	if err := validate(batchID, data); err != nil {
		s.logger.Warn("Rejected activity", "batch_id", batchID, "error", err)
		return RecordResult{Outcome: OutcomeFailed, Err: err}
	}

	hash := BatchIdentifierHash(batchID)
	log := s.logger.With("batch_id", batchID, "batch_hash", hash, "activity_type", data.ActivityType)

	receipt, err := s.client.RecordActivity(ctx, hash, types.ActivityRecord{
		ActivityType: string(data.ActivityType),
		ProductName:  data.ProductName,
		Quantity:     FormatQuantity(data.Quantity),
		IsOrganic:    data.IsOrganic,
		EvidenceRef:  data.EvidenceRef,
	})
	if err != nil {
		meta := map[string]any{"batch_id": batchID, "batch_hash": hash}
		if errors.Is(err, types.ErrConfirmationTimeout) {
			log.Warn("Activity submitted but not confirmed", "error", err)
			return RecordResult{Outcome: OutcomeAmbiguous, Err: newError(ErrAmbiguous, err.Error(), err, meta)}
		}
		log.Error("Activity anchoring failed", "error", err)
		return RecordResult{Outcome: OutcomeFailed, Err: newError(ErrTransport, err.Error(), err, meta)}
	}

	result := RecordResult{
		Outcome:     OutcomeConfirmed,
		TxRef:       receipt.TransactionID,
		BlockRef:    strconv.FormatUint(receipt.BlockHeight, 10),
		ExplorerURL: s.ExplorerURL(receipt.TransactionID),
	}
	log.Info("Activity anchored", "tx_ref", result.TxRef, "block_ref", result.BlockRef)
	return result
}

// FetchBatchActivities returns the batch's ledger history in ledger order.
func (s *Service) FetchBatchActivities(ctx context.Context, batchID string) ([]ActivityRecord, error) {
	hash := BatchIdentifierHash(batchID)
	records, err := s.client.GetBatchActivities(ctx, hash)
	if err != nil {
		return nil, newError(ErrReadFailed, fmt.Sprintf("failed to read activities: %v", err), err,
			map[string]any{"batch_id": batchID, "batch_hash": hash})
	}
	out := make([]ActivityRecord, 0, len(records))
	for _, r := range records {
		out = append(out, ActivityRecord{
			ActivityType: r.ActivityType,
			ProductName:  r.ProductName,
			Quantity:     r.Quantity,
			IsOrganic:    r.IsOrganic,
			Timestamp:    time.Unix(r.Timestamp, 0).UTC(),
			EvidenceRef:  r.EvidenceRef,
			Submitter:    r.Submitter,
			TxRef:        r.TxRef,
			BlockRef:     r.BlockRef,
		})
	}
	return out, nil
}

// GetBatchActivities is FetchBatchActivities with failures logged and reported as an empty history.
func (s *Service) GetBatchActivities(ctx context.Context, batchID string) []ActivityRecord {
	records, err := s.FetchBatchActivities(ctx, batchID)
	if err != nil {
		s.logger.Error("Reading batch activities failed", "batch_id", batchID, "error", err)
		return []ActivityRecord{}
	}
	return records
}

// CheckOrganicStatus asks the ledger for the batch's verdict.
func (s *Service) CheckOrganicStatus(ctx context.Context, batchID string) OrganicStatus {
	hash := BatchIdentifierHash(batchID)
	flag, err := s.client.GetOrganicStatus(ctx, hash)
	if err != nil {
		s.logger.Error("Reading organic status failed", "batch_id", batchID, "error", err)
		return OrganicStatus{Err: newError(ErrReadFailed, fmt.Sprintf("failed to read organic status: %v", err), err,
			map[string]any{"batch_id": batchID, "batch_hash": hash})}
	}
	return OrganicStatus{IsOrganic: flag.IsOrganic, ActivityCount: flag.ActivityCount, Verified: true}
}

// TotalActivities reads the global counter.
func (s *Service) TotalActivities(ctx context.Context) TotalCount {
	total, err := s.client.GetTotalActivities(ctx)
	if err != nil {
		s.logger.Error("Reading activity total failed", "error", err)
		return TotalCount{Err: newError(ErrReadFailed, fmt.Sprintf("failed to read activity total: %v", err), err, nil)}
	}
	return TotalCount{Count: total, Known: true}
}

// GetTotalActivities returns the counter in decimal, or "0" when it cannot be read.
func (s *Service) GetTotalActivities(ctx context.Context) string {
	return s.TotalActivities(ctx).String()
}

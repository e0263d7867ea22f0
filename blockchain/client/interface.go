package blockchain

import (
	"context"

	"farmtrace/blockchain/types"
)

// LedgerClient defines the generic interface for the activity ledger.
// This interface is blockchain-agnostic; the client owns its signing credential and connection.
type LedgerClient interface {
	// RecordActivity appends one activity keyed by batch hash and blocks until it is confirmed.
	// A wait abandoned through ctx returns an error wrapping types.ErrConfirmationTimeout.
	RecordActivity(ctx context.Context, batchHash string, record types.ActivityRecord) (*types.Receipt, error)

	// GetBatchActivities returns every record for the batch in ledger order
	GetBatchActivities(ctx context.Context, batchHash string) ([]types.LedgerRecord, error)

	// GetOrganicStatus returns the ledger's organic flag and activity count for the batch
	GetOrganicStatus(ctx context.Context, batchHash string) (*types.OrganicFlag, error)

	// GetTotalActivities returns the global activity counter across all batches
	GetTotalActivities(ctx context.Context) (uint64, error)

	// Close closes the blockchain client and releases resources
	Close() error

	// Config returns the configuration associated with the client
	Config() any
}

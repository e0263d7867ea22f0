package types

import "errors"

// ErrConfirmationTimeout reports that a write was broadcast but its confirmation
// was not observed. The transaction may still be committed.
var ErrConfirmationTimeout = errors.New("transaction submitted but confirmation not observed")

// ActivityRecord is the payload of one ledger write.
// This is a generic type that can be implemented by any blockchain
type ActivityRecord struct {
	ActivityType string `json:"activity_type"`
	ProductName  string `json:"product_name"`
	Quantity     string `json:"quantity"`
	IsOrganic    bool   `json:"is_organic"`
	EvidenceRef  string `json:"evidence_ref"`
}

// LedgerRecord is the ledger's view of one anchored activity.
type LedgerRecord struct {
	BatchHash    string `json:"batch_hash"`
	ActivityType string `json:"activity_type"`
	ProductName  string `json:"product_name"`
	Quantity     string `json:"quantity"`
	IsOrganic    bool   `json:"is_organic"`
	Timestamp    int64  `json:"timestamp"` // epoch seconds as stamped by the ledger
	EvidenceRef  string `json:"evidence_ref"`
	Submitter    string `json:"submitter"`
	TxRef        string `json:"tx_ref"`
	BlockRef     string `json:"block_ref"`
}

// Receipt is the on-chain credential returned after a confirmed write
type Receipt struct {
	TransactionID string
	BlockHeight   uint64
}

// OrganicFlag is the ledger's authoritative organic verdict for a batch
type OrganicFlag struct {
	IsOrganic     bool   `json:"is_organic"`
	ActivityCount uint64 `json:"activity_count"`
}

package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The farm ledger contract answers reads with JSON: an array of LedgerRecord for a batch
// history, an OrganicFlag object for the verdict and a bare decimal for the total.

// DecodeRecords parses a batch history. Empty or null input is an empty history.
func DecodeRecords(raw []byte) ([]LedgerRecord, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []LedgerRecord{}, nil
	}
	var records []LedgerRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity records: %w", err)
	}
	if records == nil {
		records = []LedgerRecord{}
	}
	return records, nil
}

func DecodeOrganicFlag(raw []byte) (*OrganicFlag, error) {
	var flag OrganicFlag
	if err := json.Unmarshal(raw, &flag); err != nil {
		return nil, fmt.Errorf("failed to unmarshal organic status: %w", err)
	}
	return &flag, nil
}

// DecodeTotal parses the global counter; empty input is zero.
func DecodeTotal(raw []byte) (uint64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse activity total %q: %w", s, err)
	}
	return n, nil
}

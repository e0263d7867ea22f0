// Package chaincode is the farm ledger contract: an append-only log of batch
// activities keyed by batch identifier hash, with a per-batch organic verdict
// and a global activity counter.
package chaincode

import (
	"encoding/json"
	"fmt"
	"strconv"

	"farmtrace/blockchain/types"
	"farmtrace/statemachine/journey"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	activityObjectType = "ACTIVITY"
	batchKeyPrefix     = "BATCH_"
	totalKey           = "TOTAL_ACTIVITIES"
	unknownSubmitter   = "unknown"
)

// batchSummary is the per-batch aggregate the organic verdict is computed from.
type batchSummary struct {
	ActivityCount uint64 `json:"activity_count"`
	PesticideSeen bool   `json:"pesticide_seen"`
}

// organic holds for a recorded batch that never saw a PESTICIDE activity.
// The per-record is_organic flag is informational and does not enter the verdict.
func (b batchSummary) organic() bool {
	return b.ActivityCount > 0 && !b.PesticideSeen
}

// SmartContract provides functions for anchoring farm batch activities
type SmartContract struct {
	contractapi.Contract
}

// RecordActivity appends one activity to the batch's history
func (s *SmartContract) RecordActivity(ctx contractapi.TransactionContextInterface, batchHash, activityType, productName, quantity string, isOrganic bool, evidenceRef string) error {
	_, err := RecordActivity(ctx.GetStub(), submitterOf(ctx), batchHash, types.ActivityRecord{
		ActivityType: activityType,
		ProductName:  productName,
		Quantity:     quantity,
		IsOrganic:    isOrganic,
		EvidenceRef:  evidenceRef,
	})
	return err
}

// GetBatchActivities returns the batch's history in insertion order
func (s *SmartContract) GetBatchActivities(ctx contractapi.TransactionContextInterface, batchHash string) ([]types.LedgerRecord, error) {
	return GetBatchActivities(ctx.GetStub(), batchHash)
}

// CheckOrganicStatus returns the organic verdict and activity count for the batch
func (s *SmartContract) CheckOrganicStatus(ctx contractapi.TransactionContextInterface, batchHash string) (*types.OrganicFlag, error) {
	return CheckOrganicStatus(ctx.GetStub(), batchHash)
}

// GetTotalActivities returns the number of activities recorded across all batches
func (s *SmartContract) GetTotalActivities(ctx contractapi.TransactionContextInterface) (uint64, error) {
	return GetTotalActivities(ctx.GetStub())
}

func submitterOf(ctx contractapi.TransactionContextInterface) string {
	identity := ctx.GetClientIdentity()
	if identity == nil {
		return unknownSubmitter
	}
	id, err := identity.GetID()
	if err != nil || id == "" {
		return unknownSubmitter
	}
	return id
}

// RecordActivity validates and stores one activity under the caller-supplied submitter.
func RecordActivity(stub shim.ChaincodeStubInterface, submitter, batchHash string, rec types.ActivityRecord) (*types.LedgerRecord, error) {
	if err := validateBatchHash(batchHash); err != nil {
		return nil, err
	}
	activity, ok := journey.ParseActivity(rec.ActivityType)
	if !ok {
		return nil, fmt.Errorf("unknown activity type %q", rec.ActivityType)
	}
	if rec.Quantity != "" {
		if _, err := strconv.ParseFloat(rec.Quantity, 64); err != nil {
			return nil, fmt.Errorf("invalid quantity value '%s': %v", rec.Quantity, err)
		}
	}

	summary, err := readSummary(stub, batchHash)
	if err != nil {
		return nil, err
	}

	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to read tx timestamp: %v", err)
	}

	record := types.LedgerRecord{
		BatchHash:    batchHash,
		ActivityType: string(activity),
		ProductName:  rec.ProductName,
		Quantity:     rec.Quantity,
		IsOrganic:    rec.IsOrganic,
		Timestamp:    ts.GetSeconds(),
		EvidenceRef:  rec.EvidenceRef,
		Submitter:    submitter,
		TxRef:        stub.GetTxID(),
	}

	key, err := stub.CreateCompositeKey(activityObjectType, []string{batchHash, sequence(summary.ActivityCount)})
	if err != nil {
		return nil, fmt.Errorf("failed to create activity key: %v", err)
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %v", err)
	}
	if err := stub.PutState(key, recordBytes); err != nil {
		return nil, fmt.Errorf("failed to store activity: %v", err)
	}

	summary.ActivityCount++
	if activity == journey.ActivityPesticide {
		summary.PesticideSeen = true
	}
	summaryBytes, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch summary: %v", err)
	}
	if err := stub.PutState(batchKeyPrefix+batchHash, summaryBytes); err != nil {
		return nil, fmt.Errorf("failed to store batch summary: %v", err)
	}

	total, err := GetTotalActivities(stub)
	if err != nil {
		return nil, err
	}
	if err := stub.PutState(totalKey, []byte(strconv.FormatUint(total+1, 10))); err != nil {
		return nil, fmt.Errorf("failed to store activity total: %v", err)
	}

	return &record, nil
}

// GetBatchActivities returns every stored activity of the batch; an unknown batch yields an empty slice.
func GetBatchActivities(stub shim.ChaincodeStubInterface, batchHash string) ([]types.LedgerRecord, error) {
	if err := validateBatchHash(batchHash); err != nil {
		return nil, err
	}
	iter, err := stub.GetStateByPartialCompositeKey(activityObjectType, []string{batchHash})
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %v", err)
	}
	defer iter.Close()

	records := []types.LedgerRecord{}
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate activities: %v", err)
		}
		var record types.LedgerRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity %s: %v", kv.Key, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// CheckOrganicStatus reports the batch's verdict. An unknown batch is not organic.
func CheckOrganicStatus(stub shim.ChaincodeStubInterface, batchHash string) (*types.OrganicFlag, error) {
	if err := validateBatchHash(batchHash); err != nil {
		return nil, err
	}
	summary, err := readSummary(stub, batchHash)
	if err != nil {
		return nil, err
	}
	return &types.OrganicFlag{IsOrganic: summary.organic(), ActivityCount: summary.ActivityCount}, nil
}

// GetTotalActivities reads the global counter; it is zero before the first write.
func GetTotalActivities(stub shim.ChaincodeStubInterface) (uint64, error) {
	raw, err := stub.GetState(totalKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read activity total: %v", err)
	}
	if raw == nil {
		return 0, nil
	}
	total, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt activity total %q: %v", raw, err)
	}
	return total, nil
}

func readSummary(stub shim.ChaincodeStubInterface, batchHash string) (batchSummary, error) {
	var summary batchSummary
	raw, err := stub.GetState(batchKeyPrefix + batchHash)
	if err != nil {
		return summary, fmt.Errorf("failed to read batch %s: %v", batchHash, err)
	}
	if raw == nil {
		return summary, nil
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return summary, fmt.Errorf("failed to unmarshal batch summary: %v", err)
	}
	return summary, nil
}

// sequence zero-pads so lexical key order matches insertion order.
func sequence(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func validateBatchHash(batchHash string) error {
	if len(batchHash) != 64 {
		return fmt.Errorf("batch hash must be 64 hex characters, got %d", len(batchHash))
	}
	for _, c := range batchHash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("batch hash must be lowercase hex")
		}
	}
	return nil
}

package chainmaker

import (
	"fmt"

	"farmtrace/blockchain/types"

	"chainmaker.org/chainmaker/pb-go/v2/common"
)

// checkResponse maps a non-success transaction status to an error.
// A TIMEOUT status means the node accepted the transaction but did not report its result in time.
func checkResponse(resp *common.TxResponse) error {
	if resp == nil {
		return fmt.Errorf("SDK returned nil response")
	}
	switch resp.Code {
	case common.TxStatusCode_SUCCESS:
	case common.TxStatusCode_TIMEOUT:
		return fmt.Errorf("%w: tx %s: %s", types.ErrConfirmationTimeout, resp.TxId, resp.Message)
	default:
		return fmt.Errorf("contract execution failed: %s (code: %d)", resp.Message, resp.Code)
	}
	if resp.ContractResult == nil {
		return fmt.Errorf("contract execution returned nil result (tx: %s)", resp.TxId)
	}
	if resp.ContractResult.Code != 0 {
		return fmt.Errorf("contract rejected call: %s (code: %d)", resp.ContractResult.Message, resp.ContractResult.Code)
	}
	return nil
}

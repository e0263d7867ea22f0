package chainmaker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"farmtrace/blockchain/types"
	"farmtrace/config"
	"farmtrace/internal/logger"

	"chainmaker.org/chainmaker/pb-go/v2/common"
	sdk "chainmaker.org/chainmaker/sdk-go/v2"
)

// contractInvoker is the subset of the SDK client the ledger adapter uses.
type contractInvoker interface {
	InvokeContract(contractName, method, txId string, kvs []*common.KeyValuePair, timeout int64, withSyncResult bool) (*common.TxResponse, error)
	QueryContract(contractName, method string, kvs []*common.KeyValuePair, timeout int64) (*common.TxResponse, error)
	GetTxByTxId(txId string) (*common.TransactionInfo, error)
	Stop() error
}

// Client is the wrapper around the ChainMaker SDK client
type Client struct {
	sdkClient contractInvoker
	cfg       *config.BlockchainConfig
	cmCfg     *ChainMakerConfig
	logger    *logger.Logger

	// committed transactions never move, so their heights are cached
	mu      sync.Mutex
	blockOf map[string]uint64
}

// NewChainMakerClient initializes the ChainMaker SDK client with the combined configuration
func NewChainMakerClient(cfg *config.BlockchainConfig, log *logger.Logger) (*Client, error) {
	log = log.Named("chainmaker")
	log.Info("Initializing ChainMaker SDK client")

	// Extract ChainMaker-specific configuration
	chainmakerCfg, ok := cfg.ChainSpecific.(*ChainMakerConfig)
	if !ok {
		return nil, fmt.Errorf("invalid ChainMaker configuration type")
	}
	if err := chainmakerCfg.Validate(); err != nil {
		return nil, err
	}

	var clientOptions []sdk.ChainClientOption
	clientOptions = append(clientOptions, sdk.WithChainClientOrgId(chainmakerCfg.OrgID))
	clientOptions = append(clientOptions, sdk.WithChainClientChainId(chainmakerCfg.ChainID))
	clientOptions = append(clientOptions, sdk.WithUserKeyFilePath(chainmakerCfg.UserKeyPath))
	clientOptions = append(clientOptions, sdk.WithUserCrtFilePath(chainmakerCfg.UserCertPath))
	clientOptions = append(clientOptions, sdk.WithUserSignKeyFilePath(chainmakerCfg.UserSignKeyPath))
	clientOptions = append(clientOptions, sdk.WithUserSignCrtFilePath(chainmakerCfg.UserSignCertPath))

	for _, nodeCfg := range chainmakerCfg.Nodes {
		sdkNodeConfig := sdk.NewNodeConfig(
			sdk.WithNodeAddr(nodeCfg.Address),
			sdk.WithNodeConnCnt(nodeCfg.ConnCount),
			sdk.WithNodeUseTLS(nodeCfg.UseTLS),
			sdk.WithNodeCAPaths(nodeCfg.CaPaths),
			sdk.WithNodeTLSHostName(nodeCfg.TLSHostName),
		)
		clientOptions = append(clientOptions, sdk.AddChainClientNodeConfig(sdkNodeConfig))
	}

	// Apply common configuration (retry, timeout, etc.)
	if cfg.RetryLimit > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryLimit(cfg.RetryLimit))
	}
	if cfg.RetryInterval > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryInterval(cfg.RetryInterval))
	}

	client, err := sdk.NewChainClient(clientOptions...)
	if err != nil {
		log.Error("Failed to build ChainMaker SDK client", "error", err)
		return nil, err
	}

	if err := client.EnableCertHash(); err != nil {
		log.Warn("Failed to enable cert hash", "error", err)
	}

	log.Info("ChainMaker SDK client initialized", "chain_id", chainmakerCfg.ChainID, "nodes", len(chainmakerCfg.Nodes))

	return newClient(client, cfg, chainmakerCfg, log), nil
}

func newClient(invoker contractInvoker, cfg *config.BlockchainConfig, cmCfg *ChainMakerConfig, log *logger.Logger) *Client {
	return &Client{sdkClient: invoker, cfg: cfg, cmCfg: cmCfg, logger: log, blockOf: make(map[string]uint64)}
}

// Config returns the configuration associated with the client.
func (c *Client) Config() any {
	return c.cmCfg
}

// Close stops the SDK client
func (c *Client) Close() error {
	c.logger.Info("Closing ChainMaker SDK client")
	if err := c.sdkClient.Stop(); err != nil {
		c.logger.Error("Error stopping ChainMaker SDK client", "error", err)
		return fmt.Errorf("failed to stop ChainMaker SDK client: %w", err)
	}
	return nil
}

type invokeResult struct {
	resp *common.TxResponse
	err  error
}

// RecordActivity invokes the record method with a synchronous result.
// If ctx ends before the SDK reports the outcome, the write is reported as unconfirmed.
func (c *Client) RecordActivity(ctx context.Context, batchHash string, record types.ActivityRecord) (*types.Receipt, error) {
	kvs := []*common.KeyValuePair{
		{Key: c.cmCfg.ParamKeyBatchHash, Value: []byte(batchHash)},
		{Key: c.cmCfg.ParamKeyActivityType, Value: []byte(record.ActivityType)},
		{Key: c.cmCfg.ParamKeyProductName, Value: []byte(record.ProductName)},
		{Key: c.cmCfg.ParamKeyQuantity, Value: []byte(record.Quantity)},
		{Key: c.cmCfg.ParamKeyIsOrganic, Value: []byte(strconv.FormatBool(record.IsOrganic))},
		{Key: c.cmCfg.ParamKeyEvidenceRef, Value: []byte(record.EvidenceRef)},
	}

	done := make(chan invokeResult, 1)
	go func() {
		resp, err := c.sdkClient.InvokeContract(
			c.cmCfg.ContractName,
			c.cmCfg.RecordActivityMethodName,
			"",
			kvs,
			int64(c.cfg.TimeoutSeconds),
			true,
		)
		done <- invokeResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		c.logger.Warn("Stopped waiting for activity confirmation", "batch_hash", batchHash, "error", ctx.Err())
		return nil, fmt.Errorf("%w: %v", types.ErrConfirmationTimeout, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("SDK invoke failed: %w", res.err)
		}
		if err := checkResponse(res.resp); err != nil {
			return nil, err
		}
		c.logger.Debug("Activity anchored", "batch_hash", batchHash, "tx_id", res.resp.TxId, "block", res.resp.TxBlockHeight)
		return &types.Receipt{TransactionID: res.resp.TxId, BlockHeight: res.resp.TxBlockHeight}, nil
	}
}

// GetBatchActivities queries the full activity history of a batch. The contract cannot see
// block heights, so each record's block reference is looked up from its transaction.
func (c *Client) GetBatchActivities(ctx context.Context, batchHash string) ([]types.LedgerRecord, error) {
	result, err := c.query(ctx, c.cmCfg.GetBatchActivitiesMethodName, batchHash)
	if err != nil {
		return nil, err
	}
	records, err := types.DecodeRecords(result)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].BlockRef != "" || records[i].TxRef == "" {
			continue
		}
		height, err := c.blockHeight(ctx, records[i].TxRef)
		if err != nil {
			return nil, err
		}
		records[i].BlockRef = strconv.FormatUint(height, 10)
	}
	return records, nil
}

type txInfoResult struct {
	info *common.TransactionInfo
	err  error
}

// blockHeight resolves the block a committed transaction landed in
func (c *Client) blockHeight(ctx context.Context, txID string) (uint64, error) {
	c.mu.Lock()
	height, ok := c.blockOf[txID]
	c.mu.Unlock()
	if ok {
		return height, nil
	}

	done := make(chan txInfoResult, 1)
	go func() {
		info, err := c.sdkClient.GetTxByTxId(txID)
		done <- txInfoResult{info: info, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("transaction lookup %s abandoned: %w", txID, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return 0, fmt.Errorf("SDK get transaction failed: %w", res.err)
		}
		if res.info == nil {
			return 0, fmt.Errorf("transaction data is nil for tx: %s", txID)
		}
		c.mu.Lock()
		c.blockOf[txID] = res.info.BlockHeight
		c.mu.Unlock()
		return res.info.BlockHeight, nil
	}
}

// GetOrganicStatus queries the contract's organic verdict for a batch
func (c *Client) GetOrganicStatus(ctx context.Context, batchHash string) (*types.OrganicFlag, error) {
	result, err := c.query(ctx, c.cmCfg.CheckOrganicMethodName, batchHash)
	if err != nil {
		return nil, err
	}
	return types.DecodeOrganicFlag(result)
}

// GetTotalActivities queries the global activity counter
func (c *Client) GetTotalActivities(ctx context.Context) (uint64, error) {
	result, err := c.query(ctx, c.cmCfg.GetTotalMethodName, "")
	if err != nil {
		return 0, err
	}
	return types.DecodeTotal(result)
}

func (c *Client) query(ctx context.Context, method, batchHash string) ([]byte, error) {
	var kvs []*common.KeyValuePair
	if batchHash != "" {
		kvs = []*common.KeyValuePair{{Key: c.cmCfg.ParamKeyBatchHash, Value: []byte(batchHash)}}
	}

	done := make(chan invokeResult, 1)
	go func() {
		resp, err := c.sdkClient.QueryContract(c.cmCfg.ContractName, method, kvs, int64(c.cfg.TimeoutSeconds))
		done <- invokeResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("query %s abandoned: %w", method, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("SDK query failed: %w", res.err)
		}
		if err := checkResponse(res.resp); err != nil {
			return nil, err
		}
		return res.resp.ContractResult.Result, nil
	}
}

// Package fabric connects the ledger client to the farm ledger chaincode on a
// Hyperledger Fabric network through the Fabric Gateway.
package fabric

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"farmtrace/blockchain/types"
	"farmtrace/config"
	"farmtrace/internal/logger"
)

// Transaction names exposed by the farm ledger chaincode.
const (
	txRecordActivity     = "RecordActivity"
	txGetBatchActivities = "GetBatchActivities"
	txCheckOrganicStatus = "CheckOrganicStatus"
	txGetTotalActivities = "GetTotalActivities"
)

// gateway is the subset of the Fabric Gateway the ledger adapter uses.
type gateway interface {
	// Submit returns the committed transaction and its block. An error wrapping
	// types.ErrConfirmationTimeout means the transaction may still commit.
	Submit(ctx context.Context, name string, args ...string) (txID string, block uint64, err error)
	Evaluate(ctx context.Context, name string, args ...string) ([]byte, error)
	BlockOf(ctx context.Context, txID string) (uint64, error)
	Close() error
}

// Client is the Fabric implementation of the ledger client
type Client struct {
	gw     gateway
	cfg    *config.BlockchainConfig
	fabCfg *FabricConfig
	logger *logger.Logger

	mu      sync.Mutex
	blockOf map[string]uint64
}

// NewFabricClient connects to the gateway peer named in the chain-specific configuration
func NewFabricClient(cfg *config.BlockchainConfig, log *logger.Logger) (*Client, error) {
	log = log.Named("fabric")
	log.Info("Initializing Fabric gateway client")

	fabCfg, ok := cfg.ChainSpecific.(*FabricConfig)
	if !ok {
		return nil, fmt.Errorf("invalid Fabric configuration type")
	}
	if err := fabCfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := dial(fabCfg, time.Duration(cfg.TimeoutSeconds)*time.Second)
	if err != nil {
		log.Error("Failed to connect Fabric gateway", "peer", fabCfg.PeerEndpoint, "error", err)
		return nil, err
	}

	log.Info("Fabric gateway client initialized", "peer", fabCfg.PeerEndpoint, "channel", fabCfg.ChannelName)
	return newClient(conn, cfg, fabCfg, log), nil
}

func newClient(gw gateway, cfg *config.BlockchainConfig, fabCfg *FabricConfig, log *logger.Logger) *Client {
	return &Client{gw: gw, cfg: cfg, fabCfg: fabCfg, logger: log, blockOf: make(map[string]uint64)}
}

// Config returns the configuration associated with the client.
func (c *Client) Config() any {
	return c.fabCfg
}

// Close closes the gateway and its connection
func (c *Client) Close() error {
	c.logger.Info("Closing Fabric gateway client")
	if err := c.gw.Close(); err != nil {
		c.logger.Error("Error closing Fabric gateway", "error", err)
		return fmt.Errorf("failed to close Fabric gateway: %w", err)
	}
	return nil
}

// RecordActivity submits the record transaction and waits for its commit status.
func (c *Client) RecordActivity(ctx context.Context, batchHash string, record types.ActivityRecord) (*types.Receipt, error) {
	txID, block, err := c.gw.Submit(ctx, txRecordActivity,
		batchHash,
		record.ActivityType,
		record.ProductName,
		record.Quantity,
		strconv.FormatBool(record.IsOrganic),
		record.EvidenceRef,
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Warn("Stopped waiting for activity confirmation", "batch_hash", batchHash, "error", ctxErr)
		}
		return nil, err
	}

	c.mu.Lock()
	c.blockOf[txID] = block
	c.mu.Unlock()

	c.logger.Debug("Activity anchored", "batch_hash", batchHash, "tx_id", txID, "block", block)
	return &types.Receipt{TransactionID: txID, BlockHeight: block}, nil
}

// GetBatchActivities evaluates the history query and fills each record's block from the peer ledger.
func (c *Client) GetBatchActivities(ctx context.Context, batchHash string) ([]types.LedgerRecord, error) {
	raw, err := c.gw.Evaluate(ctx, txGetBatchActivities, batchHash)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	records, err := types.DecodeRecords(raw)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].BlockRef != "" || records[i].TxRef == "" {
			continue
		}
		block, err := c.blockHeight(ctx, records[i].TxRef)
		if err != nil {
			return nil, err
		}
		records[i].BlockRef = strconv.FormatUint(block, 10)
	}
	return records, nil
}

func (c *Client) blockHeight(ctx context.Context, txID string) (uint64, error) {
	c.mu.Lock()
	block, ok := c.blockOf[txID]
	c.mu.Unlock()
	if ok {
		return block, nil
	}

	block, err := c.gw.BlockOf(ctx, txID)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.blockOf[txID] = block
	c.mu.Unlock()
	return block, nil
}

// GetOrganicStatus evaluates the chaincode's organic verdict for a batch
func (c *Client) GetOrganicStatus(ctx context.Context, batchHash string) (*types.OrganicFlag, error) {
	raw, err := c.gw.Evaluate(ctx, txCheckOrganicStatus, batchHash)
	if err != nil {
		return nil, fmt.Errorf("organic status query failed: %w", err)
	}
	return types.DecodeOrganicFlag(raw)
}

// GetTotalActivities evaluates the global activity counter
func (c *Client) GetTotalActivities(ctx context.Context) (uint64, error) {
	raw, err := c.gw.Evaluate(ctx, txGetTotalActivities)
	if err != nil {
		return 0, fmt.Errorf("activity total query failed: %w", err)
	}
	return types.DecodeTotal(raw)
}

// Package simulated runs the farm ledger contract in-process over the Fabric mock stub.
package simulated

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"farmtrace/blockchain/types"
	"farmtrace/chaincode"
	"farmtrace/config"
	"farmtrace/internal/logger"

	"github.com/google/uuid"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
)

// Client is an in-process ledger. Each write is its own transaction and block.
type Client struct {
	mu          sync.Mutex
	stub        *shimtest.MockStub
	cfg         *config.BlockchainConfig
	logger      *logger.Logger
	height      uint64
	blockOf     map[string]uint64
	writeErr    error
	lostConfirm bool
	readErr     error
}

// NewClient creates an empty ledger.
func NewClient(cfg *config.BlockchainConfig, log *logger.Logger) *Client {
	if cfg == nil {
		cfg = &config.BlockchainConfig{BlockchainType: "simulated", SubmitterID: "farmtrace"}
	}
	return &Client{
		stub:    shimtest.NewMockStub("farm_ledger", nil),
		cfg:     cfg,
		logger:  log.Named("simulated"),
		blockOf: make(map[string]uint64),
	}
}

// FailNextWrite makes the next RecordActivity return err without touching the ledger.
func (c *Client) FailNextWrite(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// LoseNextConfirmation commits the next write but reports it as unconfirmed.
func (c *Client) LoseNextConfirmation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostConfirm = true
}

// FailReads makes every read return err until called with nil.
func (c *Client) FailReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// Height is the number of blocks committed so far.
func (c *Client) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

func (c *Client) RecordActivity(ctx context.Context, batchHash string, record types.ActivityRecord) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("write not submitted: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		err := c.writeErr
		c.writeErr = nil
		return nil, err
	}

	txID := uuid.NewString()
	c.stub.MockTransactionStart(txID)
	stored, err := chaincode.RecordActivity(c.stub, c.cfg.SubmitterID, batchHash, record)
	c.stub.MockTransactionEnd(txID)
	if err != nil {
		return nil, fmt.Errorf("contract execution failed: %w", err)
	}

	c.height++
	c.blockOf[txID] = c.height
	c.logger.Debug("Activity committed", "batch_hash", batchHash, "tx_id", txID, "block", c.height, "type", stored.ActivityType)

	if c.lostConfirm {
		c.lostConfirm = false
		return nil, fmt.Errorf("%w: tx %s", types.ErrConfirmationTimeout, txID)
	}
	return &types.Receipt{TransactionID: txID, BlockHeight: c.height}, nil
}

func (c *Client) GetBatchActivities(ctx context.Context, batchHash string) ([]types.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}

	records, err := chaincode.GetBatchActivities(c.stub, batchHash)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if h, ok := c.blockOf[records[i].TxRef]; ok {
			records[i].BlockRef = strconv.FormatUint(h, 10)
		}
	}
	return records, nil
}

func (c *Client) GetOrganicStatus(ctx context.Context, batchHash string) (*types.OrganicFlag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	return chaincode.CheckOrganicStatus(c.stub, batchHash)
}

func (c *Client) GetTotalActivities(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	return chaincode.GetTotalActivities(c.stub)
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) Config() any {
	return c.cfg
}

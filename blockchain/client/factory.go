package blockchain

import (
	"fmt"
	"path/filepath"

	"farmtrace/blockchain/client/chainmaker"
	"farmtrace/blockchain/client/fabric"
	"farmtrace/blockchain/client/simulated"
	"farmtrace/config"
	"farmtrace/internal/logger"
)

// BlockchainType represents the type of blockchain client
type BlockchainType string

const (
	ChainMaker BlockchainType = "chainmaker"
	Fabric     BlockchainType = "fabric"
	Simulated  BlockchainType = "simulated"
)

// LoadChainSpecificConfig loads chain-specific configuration based on blockchain type
func LoadChainSpecificConfig(blockchainType string, configDir string, log *logger.Logger) (any, error) {
	switch BlockchainType(blockchainType) {
	case ChainMaker, "":
		// Default to ChainMaker if not specified
		chainmakerConfigPath := filepath.Join(configDir, "clients", "chainmaker.yml")
		return chainmaker.LoadChainMakerConfig(chainmakerConfigPath, log)
	case Fabric:
		return fabric.LoadFabricConfig(filepath.Join(configDir, "clients", "fabric.yml"), log)
	case Simulated:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", blockchainType)
	}
}

// NewLedgerClient creates a ledger client based on the configuration
func NewLedgerClient(cfg *config.BlockchainConfig, log *logger.Logger) (LedgerClient, error) {
	switch BlockchainType(cfg.BlockchainType) {
	case ChainMaker, "":
		client, err := chainmaker.NewChainMakerClient(cfg, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	case Fabric:
		client, err := fabric.NewFabricClient(cfg, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	case Simulated:
		log.Warn("Using in-process simulated ledger; records do not survive restarts")
		return simulated.NewClient(cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", cfg.BlockchainType)
	}
}

// NewLedgerClientFromFile creates a ledger client from configuration files
func NewLedgerClientFromFile(configPath string, log *logger.Logger) (LedgerClient, *config.BlockchainConfig, error) {
	// Load common configuration
	cfg, err := config.LoadBlockchainConfig(configPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load common config from file '%s': %w", configPath, err)
	}

	// Load chain-specific configuration
	configDir := filepath.Dir(configPath)
	chainSpecificCfg, err := LoadChainSpecificConfig(cfg.BlockchainType, configDir, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load chain-specific config: %w", err)
	}

	cfg.ChainSpecific = chainSpecificCfg
	client, err := NewLedgerClient(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

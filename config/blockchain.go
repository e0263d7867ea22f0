package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"farmtrace/internal/logger"

	"gopkg.in/yaml.v2"
)

// BlockchainConfig stores common ledger configuration across all blockchain types
type BlockchainConfig struct {
	// --- Blockchain Type Selection ---
	BlockchainType string `yaml:"blockchain_type"` // "chainmaker", "fabric" or "simulated"

	// --- Common Behavior Configuration ---
	RetryLimit     int `yaml:"retry_limit"`
	RetryInterval  int `yaml:"retry_interval"` // milliseconds
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// ExplorerURLTemplate renders a transaction link; "%s" is replaced by the tx reference.
	ExplorerURLTemplate string `yaml:"explorer_url_template"`

	// SubmitterID labels records written by the simulated ledger.
	SubmitterID string `yaml:"submitter_id"`

	// --- Chain-specific Configuration ---
	// This will be loaded separately based on blockchain type
	ChainSpecific any `yaml:"-"`
}

// SetDefaults fills unset common settings.
func (c *BlockchainConfig) SetDefaults(log *logger.Logger) {
	if c.RetryLimit <= 0 {
		c.RetryLimit = 20
		log.Warn("blockchain.retry_limit not set, using default", "retry_limit", c.RetryLimit)
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500
		log.Warn("blockchain.retry_interval not set, using default", "retry_interval_ms", c.RetryInterval)
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
		log.Warn("blockchain.timeout_seconds not set, using default", "timeout_seconds", c.TimeoutSeconds)
	}
	if c.SubmitterID == "" {
		c.SubmitterID = "farmtrace"
	}
}

// Validate checks the common settings.
func (c *BlockchainConfig) Validate() error {
	if c.ExplorerURLTemplate != "" && strings.Count(c.ExplorerURLTemplate, "%s") != 1 {
		return fmt.Errorf("explorer_url_template must contain exactly one %%s placeholder, got %q", c.ExplorerURLTemplate)
	}
	return nil
}

// LoadBlockchainConfig loads blockchain configuration from the specified YAML file path
func LoadBlockchainConfig(path string, log *logger.Logger) (*BlockchainConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config file: %w", err)
	}

	log.Info("Loading blockchain configuration", "path", absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", absPath, err)
	}

	var cfg BlockchainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	cfg.SetDefaults(log)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("blockchain configuration error: %w", err)
	}

	log.Info("Blockchain configuration loaded", "blockchain_type", cfg.BlockchainType)
	return &cfg, nil
}

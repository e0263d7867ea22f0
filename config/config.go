package config

import (
	"fmt"
	"os"
	"path/filepath"

	"farmtrace/internal/logger"
)

// Config represents the complete application configuration
type Config struct {
	Engine     *EngineConfig
	Tracking   *TrackingConfig
	Blockchain *BlockchainConfig
}

// LoadConfig loads all configuration files from a directory.
// Missing files leave the corresponding section nil.
func LoadConfig(configDir string, log *logger.Logger) (*Config, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config directory: %w", err)
	}

	config := &Config{}

	// Load engine config
	enginePath := filepath.Join(absDir, "engine.defaults.yml")
	if _, err := os.Stat(enginePath); err == nil {
		engineCfg, err := LoadEngineConfig(enginePath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load engine config: %w", err)
		}
		config.Engine = engineCfg
	}

	// Load tracking config
	trackingPath := filepath.Join(absDir, "tracking.defaults.yml")
	if _, err := os.Stat(trackingPath); err == nil {
		trackingCfg, err := LoadTrackingConfig(trackingPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load tracking config: %w", err)
		}
		config.Tracking = trackingCfg
	}

	// Load blockchain config
	blockchainPath := filepath.Join(absDir, "client_config.yml")
	if _, err := os.Stat(blockchainPath); err == nil {
		blockchainCfg, err := LoadBlockchainConfig(blockchainPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load blockchain config: %w", err)
		}
		config.Blockchain = blockchainCfg
	}

	return config, nil
}

package fabric

import (
	"fmt"
	"os"
	"path/filepath"

	"farmtrace/internal/logger"

	"gopkg.in/yaml.v2"
)

// FabricConfig stores Hyperledger Fabric gateway settings
type FabricConfig struct {
	MSPID        string `yaml:"msp_id"`
	PeerEndpoint string `yaml:"peer_endpoint"`
	// GatewayPeer overrides the TLS server name when the endpoint is an address
	GatewayPeer string `yaml:"gateway_peer"`

	// Client identity and TLS trust
	CertPath    string `yaml:"cert_path"`
	KeyPath     string `yaml:"key_path"`
	TLSCertPath string `yaml:"tls_cert_path"`

	ChannelName   string `yaml:"channel_name"`
	ChaincodeName string `yaml:"chaincode_name"`
}

// SetDefaults fills the channel and chaincode names of a test network deployment.
func (c *FabricConfig) SetDefaults() {
	if c.ChannelName == "" {
		c.ChannelName = "mychannel"
	}
	if c.ChaincodeName == "" {
		c.ChaincodeName = "farm_ledger"
	}
}

// Validate checks the settings the gateway cannot connect without.
func (c *FabricConfig) Validate() error {
	if c.MSPID == "" || c.PeerEndpoint == "" {
		return fmt.Errorf("msp_id and peer_endpoint are required")
	}
	if c.CertPath == "" || c.KeyPath == "" {
		return fmt.Errorf("cert_path and key_path are required")
	}
	if c.TLSCertPath == "" {
		return fmt.Errorf("tls_cert_path is required")
	}
	return nil
}

// LoadFabricConfig loads Fabric configuration from the specified YAML file path
func LoadFabricConfig(path string, log *logger.Logger) (*FabricConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of Fabric config file: %w", err)
	}

	log.Info("Loading Fabric configuration", "path", absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read Fabric config file '%s': %w", absPath, err)
	}

	var cfg FabricConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse Fabric YAML config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Fabric configuration error: %w", err)
	}

	log.Info("Fabric configuration loaded", "channel", cfg.ChannelName, "chaincode", cfg.ChaincodeName)
	return &cfg, nil
}

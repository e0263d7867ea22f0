package chainmaker

import (
	"fmt"
	"os"
	"path/filepath"

	"farmtrace/internal/logger"

	"gopkg.in/yaml.v2"
)

// NodeConfig stores detailed configuration for a single ChainMaker node
type NodeConfig struct {
	Address     string   `yaml:"address"`
	ConnCount   int      `yaml:"conn_count"`
	UseTLS      bool     `yaml:"use_tls"`
	TLSHostName string   `yaml:"tls_host_name"`
	CaPaths     []string `yaml:"ca_paths"`
}

// ChainMakerConfig stores ChainMaker-specific configuration
type ChainMakerConfig struct {
	// --- SDK Connection Required ---
	ChainID string `yaml:"chain_id"`
	OrgID   string `yaml:"org_id"`

	// TLS Connection Credentials
	UserKeyPath  string `yaml:"user_key_path"`
	UserCertPath string `yaml:"user_cert_path"`

	// Transaction Signing Credentials
	UserSignKeyPath  string `yaml:"user_sign_key_path"`
	UserSignCertPath string `yaml:"user_sign_cert_path"`

	Nodes []NodeConfig `yaml:"nodes"`

	// --- Farm ledger contract ---
	ContractName                 string `yaml:"contract_name"`
	RecordActivityMethodName     string `yaml:"record_activity_method_name"`
	GetBatchActivitiesMethodName string `yaml:"get_batch_activities_method_name"`
	CheckOrganicMethodName       string `yaml:"check_organic_method_name"`
	GetTotalMethodName           string `yaml:"get_total_method_name"`

	ParamKeyBatchHash    string `yaml:"param_key_batch_hash"`
	ParamKeyActivityType string `yaml:"param_key_activity_type"`
	ParamKeyProductName  string `yaml:"param_key_product_name"`
	ParamKeyQuantity     string `yaml:"param_key_quantity"`
	ParamKeyIsOrganic    string `yaml:"param_key_is_organic"`
	ParamKeyEvidenceRef  string `yaml:"param_key_evidence_ref"`
}

// SetDefaults fills the contract method and parameter names used by the bundled farm ledger contract.
func (c *ChainMakerConfig) SetDefaults() {
	setDefault(&c.RecordActivityMethodName, "record_activity")
	setDefault(&c.GetBatchActivitiesMethodName, "get_batch_activities")
	setDefault(&c.CheckOrganicMethodName, "check_organic_status")
	setDefault(&c.GetTotalMethodName, "get_total_activities")
	setDefault(&c.ParamKeyBatchHash, "batch_hash")
	setDefault(&c.ParamKeyActivityType, "activity_type")
	setDefault(&c.ParamKeyProductName, "product_name")
	setDefault(&c.ParamKeyQuantity, "quantity")
	setDefault(&c.ParamKeyIsOrganic, "is_organic")
	setDefault(&c.ParamKeyEvidenceRef, "evidence_ref")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks the settings the SDK cannot start without.
func (c *ChainMakerConfig) Validate() error {
	if c.ChainID == "" || c.OrgID == "" {
		return fmt.Errorf("chain_id and org_id are required")
	}
	if c.ContractName == "" {
		return fmt.Errorf("contract_name is required")
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no node configurations provided in config")
	}
	for _, node := range c.Nodes {
		if node.UseTLS && len(node.CaPaths) == 0 {
			return fmt.Errorf("node %s has TLS enabled but no CaPaths provided", node.Address)
		}
	}
	return nil
}

// LoadChainMakerConfig loads ChainMaker configuration from the specified YAML file path
func LoadChainMakerConfig(path string, log *logger.Logger) (*ChainMakerConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of ChainMaker config file: %w", err)
	}

	log.Info("Loading ChainMaker configuration", "path", absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ChainMaker config file '%s': %w", absPath, err)
	}

	var cfg ChainMakerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse ChainMaker YAML config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ChainMaker configuration error: %w", err)
	}

	log.Info("ChainMaker configuration loaded", "chain_id", cfg.ChainID, "contract", cfg.ContractName)
	return &cfg, nil
}

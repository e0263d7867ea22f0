package config

import (
	"fmt"
	"os"
	"time"

	"farmtrace/internal/logger"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"
)

// MockBroker makes the engine consume from the in-process demo consumer instead of Kafka.
const MockBroker = "mock://local"

// KafkaConsumerConfig defines configuration for Kafka consumer
type KafkaConsumerConfig struct {
	Brokers           []string `yaml:"brokers"`             // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic             string   `yaml:"topic"`               // Topic to consume from
	GroupID           string   `yaml:"group_id"`            // Consumer group ID
	Count             int      `yaml:"count"`               // Number of consumers to create
	SessionTimeout    string   `yaml:"session_timeout"`     // Kafka session timeout
	HeartbeatInterval string   `yaml:"heartbeat_interval"`  // Kafka heartbeat interval
	MaxProcessingTime string   `yaml:"max_processing_time"` // Maximum time for processing a message
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`   // earliest/latest
}

// SetDefaults sets reasonable default values for Kafka consumer configuration
func (c *KafkaConsumerConfig) SetDefaults(log *logger.Logger) {
	if c.Count <= 0 {
		c.Count = 1
		log.Warn("kafka_consumer.count not set or invalid, using default", "count", c.Count)
	}
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
		log.Warn("kafka_consumer.session_timeout not set, using default", "session_timeout", c.SessionTimeout)
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "3s"
		log.Warn("kafka_consumer.heartbeat_interval not set, using default", "heartbeat_interval", c.HeartbeatInterval)
	}
	if c.MaxProcessingTime == "" {
		c.MaxProcessingTime = "5m"
		log.Warn("kafka_consumer.max_processing_time not set, using default", "max_processing_time", c.MaxProcessingTime)
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
		log.Warn("kafka_consumer.auto_offset_reset not set, using default", "auto_offset_reset", c.AutoOffsetReset)
	}
}

// IsMock reports whether the demo consumer was requested.
func (c *KafkaConsumerConfig) IsMock() bool {
	return len(c.Brokers) == 0 || c.Brokers[0] == MockBroker
}

// WorkerConfig defines configuration for anchoring workers
type WorkerConfig struct {
	Concurrency        int    `yaml:"concurrency"`          // Number of concurrent workers per consumer
	BatchSize          int    `yaml:"batch_size"`           // Number of messages claimed per batch
	BatchTimeout       string `yaml:"batch_timeout"`        // Maximum wait time for batch
	ConsumerRetryDelay string `yaml:"consumer_retry_delay"` // Delay when consumer encounters errors
	BlockchainTimeout  string `yaml:"blockchain_timeout"`   // Bound on each ledger write, including confirmation
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults(log *logger.Logger) {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
		log.Warn("worker.concurrency not set or invalid, using default", "concurrency", c.Concurrency)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
		log.Warn("worker.batch_size not set or invalid, using default", "batch_size", c.BatchSize)
	}
	if c.BatchTimeout == "" {
		c.BatchTimeout = "1s"
		log.Warn("worker.batch_timeout not set, using default", "batch_timeout", c.BatchTimeout)
	}
	if c.ConsumerRetryDelay == "" {
		c.ConsumerRetryDelay = "5s"
		log.Warn("worker.consumer_retry_delay not set, using default", "consumer_retry_delay", c.ConsumerRetryDelay)
	}
	if c.BlockchainTimeout == "" {
		c.BlockchainTimeout = "30s"
		log.Warn("worker.blockchain_timeout not set, using default", "blockchain_timeout", c.BlockchainTimeout)
	}
}

// ReconcilerConfig drives the job that settles writes whose confirmation was never observed.
type ReconcilerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Schedule    string `yaml:"schedule"`     // standard 5-field cron expression or @every descriptor
	GraceWindow string `yaml:"grace_window"` // how long an unmatched task waits before it is retried; must outlast a worker batch
	ClockSkew   string `yaml:"clock_skew"`   // tolerance between local receipt time and ledger timestamps
	BatchLimit  int    `yaml:"batch_limit"`  // maximum tasks examined per run
	ReadTimeout string `yaml:"read_timeout"` // bound on each ledger history read
}

func (c *ReconcilerConfig) SetDefaults(log *logger.Logger) {
	if c.Schedule == "" {
		c.Schedule = "@every 1m"
		log.Warn("reconciler.schedule not set, using default", "schedule", c.Schedule)
	}
	if c.GraceWindow == "" {
		c.GraceWindow = "30m"
		log.Warn("reconciler.grace_window not set, using default", "grace_window", c.GraceWindow)
	}
	if c.ClockSkew == "" {
		c.ClockSkew = "2m"
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = "15s"
	}
}

// Validate checks the cron expression.
func (c *ReconcilerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid reconciler schedule %q: %w", c.Schedule, err)
	}
	return nil
}

// CoversClaim checks that the grace window outlasts the longest a worker may hold a claimed
// batch, which is one bounded write per task. A shorter window would requeue PROCESSING tasks
// that are still being written.
func (c *ReconcilerConfig) CoversClaim(w WorkerConfig) error {
	if !c.Enabled {
		return nil
	}
	grace, err := time.ParseDuration(c.GraceWindow)
	if err != nil {
		return fmt.Errorf("invalid reconciler grace_window %q: %w", c.GraceWindow, err)
	}
	write, err := time.ParseDuration(w.BlockchainTimeout)
	if err != nil {
		return fmt.Errorf("invalid worker blockchain_timeout %q: %w", w.BlockchainTimeout, err)
	}
	if claim := time.Duration(w.BatchSize) * write; grace <= claim {
		return fmt.Errorf("grace_window %s must exceed worker batch_size x blockchain_timeout (%d x %s = %s)",
			grace, w.BatchSize, write, claim)
	}
	return nil
}

// EngineMonitoringConfig defines monitoring configuration for engine
type EngineMonitoringConfig struct {
	HealthListenAddr string `yaml:"health_listen_addr"` // gRPC health service address; empty disables it
	PingInterval     string `yaml:"ping_interval"`      // Ledger ping interval
	LogLevel         string `yaml:"log_level"`          // Logging level
	LogMode          string `yaml:"log_mode"`           // "production" or "development"
}

// SetDefaults sets reasonable default values for monitoring configuration
func (c *EngineMonitoringConfig) SetDefaults(log *logger.Logger) {
	if c.PingInterval == "" {
		c.PingInterval = "30s"
		log.Warn("monitoring.ping_interval not set, using default", "ping_interval", c.PingInterval)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// EngineConfig defines all configuration for the Anchoring Engine
type EngineConfig struct {
	// Database Configuration - using unified DatabaseConfig
	Database DatabaseConfig `yaml:"database"`

	// Kafka Consumer Configuration
	KafkaConsumer KafkaConsumerConfig `yaml:"kafka_consumer"`

	// Kafka Producer Configuration, used by the reconciler to re-publish retried tasks
	KafkaProducer KafkaProducerConfig `yaml:"kafka_producer"`

	// Worker Configuration
	Worker WorkerConfig `yaml:"worker"`

	Reconciler ReconcilerConfig `yaml:"reconciler"`

	// Business Rules Configuration
	MaxTaskRetries int `yaml:"max_task_retries"` // Maximum retry attempts per task (business rule)

	// Monitoring Configuration
	Monitoring EngineMonitoringConfig `yaml:"monitoring"`

	// Blockchain Client Configuration
	BlockchainClientConfigPath string `yaml:"blockchain_client_config_path"`
}

// LoadEngineConfig loads configuration from the specified YAML file path
func LoadEngineConfig(path string, log *logger.Logger) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	// Set default values for all configurations
	cfg.Database.SetDefaults(log)
	cfg.KafkaConsumer.SetDefaults(log)
	cfg.KafkaProducer.SetDefaults(log)
	cfg.Worker.SetDefaults(log)
	cfg.Reconciler.SetDefaults(log)
	cfg.Monitoring.SetDefaults(log)

	// Set default for business rules
	if cfg.MaxTaskRetries <= 0 {
		cfg.MaxTaskRetries = 3
		log.Warn("max_task_retries not set or invalid, using default", "max_task_retries", cfg.MaxTaskRetries)
	}

	if cfg.BlockchainClientConfigPath == "" {
		return nil, fmt.Errorf("configuration error: blockchain_client_config_path is required")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}
	if err := cfg.Reconciler.Validate(); err != nil {
		return nil, fmt.Errorf("reconciler configuration error: %w", err)
	}
	if err := cfg.Reconciler.CoversClaim(cfg.Worker); err != nil {
		return nil, fmt.Errorf("reconciler configuration error: %w", err)
	}

	return &cfg, nil
}

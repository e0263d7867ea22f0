package config

import (
	"fmt"
	"os"
	"time"

	"farmtrace/internal/logger"

	"gopkg.in/yaml.v2"
)

// KafkaProducerConfig defines configuration for Kafka producer
type KafkaProducerConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// Batch processing settings
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BatchBytes   int           `yaml:"batch_bytes"`

	// Reliability settings
	RequiredAcks string `yaml:"required_acks"`
	Async        bool   `yaml:"async"`

	// Performance settings
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// SetDefaults sets reasonable default values for Kafka producer configuration
func (c *KafkaProducerConfig) SetDefaults(log *logger.Logger) {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
		log.Warn("kafka_producer.batch_size not set, using default", "batch_size", c.BatchSize)
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.BatchBytes <= 0 {
		c.BatchBytes = 1 << 20
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
		log.Warn("kafka_producer.required_acks not set, using default", "required_acks", c.RequiredAcks)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
}

// IsMock reports whether the producer should be replaced by an in-process sink.
func (c *KafkaProducerConfig) IsMock() bool {
	return len(c.Brokers) == 0 || c.Brokers[0] == MockBroker
}

// BatchProcessorConfig defines configuration for batch processing
type BatchProcessorConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	MaxBufferSize      int           `yaml:"max_buffer_size"`
	FlushChannelBuffer int           `yaml:"flush_channel_buffer"` // Buffer size for flush channel
}

// SetDefaults sets reasonable default values for batch processor configuration
func (c *BatchProcessorConfig) SetDefaults(log *logger.Logger) {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
		log.Warn("batch_processor.batch_size not set, using default", "batch_size", c.BatchSize)
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 100 * time.Millisecond
		log.Warn("batch_processor.batch_timeout not set, using default", "batch_timeout", c.BatchTimeout)
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 10000
		log.Warn("batch_processor.max_buffer_size not set, using default", "max_buffer_size", c.MaxBufferSize)
	}
	if c.FlushChannelBuffer <= 0 {
		c.FlushChannelBuffer = 100
		log.Warn("batch_processor.flush_channel_buffer not set, using default", "flush_channel_buffer", c.FlushChannelBuffer)
	}
}

// Validate checks the buffer relationships.
func (c *BatchProcessorConfig) Validate() error {
	if c.MaxBufferSize < c.BatchSize {
		return fmt.Errorf("batch_processor max_buffer_size (%d) cannot be smaller than batch_size (%d)",
			c.MaxBufferSize, c.BatchSize)
	}
	return nil
}

// TrackingConfig defines all configuration required by the tracking service
type TrackingConfig struct {
	Database       DatabaseConfig       `yaml:"database"`       // Use unified DatabaseConfig
	KafkaProducer  KafkaProducerConfig  `yaml:"kafka_producer"` // Local Kafka producer config
	BatchProcessor BatchProcessorConfig `yaml:"batch_processor"`
}

// LoadTrackingConfig loads tracking service configuration from the specified YAML file path
func LoadTrackingConfig(path string, log *logger.Logger) (*TrackingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracking config file '%s': %w", path, err)
	}

	var cfg TrackingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tracking YAML config file: %w", err)
	}

	cfg.Database.SetDefaults(log)
	cfg.KafkaProducer.SetDefaults(log)
	cfg.BatchProcessor.SetDefaults(log)

	if !cfg.KafkaProducer.IsMock() && cfg.KafkaProducer.Topic == "" {
		return nil, fmt.Errorf("configuration error: kafka_producer.topic is required")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}
	if err := cfg.BatchProcessor.Validate(); err != nil {
		return nil, fmt.Errorf("batch processor configuration error: %w", err)
	}

	return &cfg, nil
}

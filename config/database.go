package config

import (
	"fmt"
	"time"

	"farmtrace/internal/logger"
)

// DatabaseConfig is the anchoring-task store configuration shared by the engine and the tracking service.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" json:"dsn"`                         // PostgreSQL connection string; "memory://" selects the in-process store
	MaxConnections int    `yaml:"max_connections" json:"max_connections"` // Maximum number of connections
	MinConnections int    `yaml:"min_connections" json:"min_connections"` // Minimum number of connections
	MaxIdleTime    string `yaml:"max_idle_time" json:"max_idle_time"`     // Maximum time a connection can be idle
	MaxLifetime    string `yaml:"max_lifetime" json:"max_lifetime"`       // Maximum lifetime of a connection
}

// MemoryDSN selects the in-process task store.
const MemoryDSN = "memory://"

// SetDefaults sets sensible default values for the database configuration
func (c *DatabaseConfig) SetDefaults(log *logger.Logger) {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 20
		log.Warn("database.max_connections not set or invalid, using default", "max_connections", c.MaxConnections)
	}
	if c.MinConnections <= 0 {
		c.MinConnections = 2
		log.Warn("database.min_connections not set or invalid, using default", "min_connections", c.MinConnections)
	}
	if c.MaxIdleTime == "" {
		c.MaxIdleTime = "1h"
		log.Warn("database.max_idle_time not set, using default", "max_idle_time", c.MaxIdleTime)
	}
	if c.MaxLifetime == "" {
		c.MaxLifetime = "24h"
		log.Warn("database.max_lifetime not set, using default", "max_lifetime", c.MaxLifetime)
	}
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("database max_connections must be positive")
	}
	if c.MinConnections < 0 {
		return fmt.Errorf("database min_connections cannot be negative")
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("database min_connections (%d) cannot be greater than max_connections (%d)",
			c.MinConnections, c.MaxConnections)
	}
	if _, err := time.ParseDuration(c.MaxIdleTime); err != nil {
		return fmt.Errorf("database max_idle_time: %w", err)
	}
	if _, err := time.ParseDuration(c.MaxLifetime); err != nil {
		return fmt.Errorf("database max_lifetime: %w", err)
	}
	return nil
}

// IsMemory reports whether the in-process store was requested.
func (c *DatabaseConfig) IsMemory() bool {
	return c.DSN == MemoryDSN
}

// Durations returns the parsed idle and lifetime limits. Call after Validate.
func (c *DatabaseConfig) Durations() (maxIdle, maxLifetime time.Duration) {
	maxIdle, _ = time.ParseDuration(c.MaxIdleTime)
	maxLifetime, _ = time.ParseDuration(c.MaxLifetime)
	return maxIdle, maxLifetime
}

// LogConfiguration logs the database configuration (excluding sensitive DSN)
func (c *DatabaseConfig) LogConfiguration(log *logger.Logger) {
	log.Info("Database configuration",
		"max_connections", c.MaxConnections,
		"min_connections", c.MinConnections,
		"max_idle_time", c.MaxIdleTime,
		"max_lifetime", c.MaxLifetime,
		"memory", c.IsMemory(),
	)
}

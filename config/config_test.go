package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"farmtrace/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEngineConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yml", `
database:
  dsn: "memory://"
kafka_consumer:
  brokers: ["mock://local"]
  topic: activities
reconciler:
  enabled: true
blockchain_client_config_path: client_config.yml
`)

	cfg, err := LoadEngineConfig(path, logger.Nop())
	require.NoError(t, err)

	assert.True(t, cfg.Database.IsMemory())
	assert.Equal(t, 20, cfg.Database.MaxConnections)
	assert.Equal(t, 1, cfg.KafkaConsumer.Count)
	assert.True(t, cfg.KafkaConsumer.IsMock())
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, "30s", cfg.Worker.BlockchainTimeout)
	assert.Equal(t, "@every 1m", cfg.Reconciler.Schedule)
	assert.Equal(t, "30m", cfg.Reconciler.GraceWindow)
	assert.Equal(t, 3, cfg.MaxTaskRetries)
	assert.Equal(t, "30s", cfg.Monitoring.PingInterval)
}

func TestLoadEngineConfigRequiresClientConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yml", `
database:
  dsn: "memory://"
`)

	_, err := LoadEngineConfig(path, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockchain_client_config_path")
}

func TestLoadEngineConfigRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yml", `
database:
  dsn: "memory://"
reconciler:
  enabled: true
  schedule: "not a schedule"
blockchain_client_config_path: client_config.yml
`)

	_, err := LoadEngineConfig(path, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconciler")
}

func TestLoadEngineConfigRejectsGraceWindowShorterThanABatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yml", `
database:
  dsn: "memory://"
worker:
  batch_size: 50
  blockchain_timeout: "30s"
reconciler:
  enabled: true
  grace_window: "10m"
blockchain_client_config_path: client_config.yml
`)

	_, err := LoadEngineConfig(path, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grace_window")
}

func TestReconcilerCoversClaim(t *testing.T) {
	worker := WorkerConfig{BatchSize: 10, BlockchainTimeout: "30s"}

	cfg := ReconcilerConfig{Enabled: true, GraceWindow: "5m"}
	assert.Error(t, cfg.CoversClaim(worker), "equal to one full batch")

	cfg.GraceWindow = "6m"
	assert.NoError(t, cfg.CoversClaim(worker))

	cfg.GraceWindow = "soon"
	assert.Error(t, cfg.CoversClaim(worker))

	cfg = ReconcilerConfig{Enabled: false, GraceWindow: "1s"}
	assert.NoError(t, cfg.CoversClaim(worker), "a disabled reconciler never requeues")
}

func TestDatabaseConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DatabaseConfig
		wantErr bool
	}{
		{"ok", DatabaseConfig{DSN: "postgres://x", MaxConnections: 4, MinConnections: 1, MaxIdleTime: "1m", MaxLifetime: "1h"}, false},
		{"missing dsn", DatabaseConfig{MaxConnections: 4, MaxIdleTime: "1m", MaxLifetime: "1h"}, true},
		{"min above max", DatabaseConfig{DSN: "x", MaxConnections: 1, MinConnections: 2, MaxIdleTime: "1m", MaxLifetime: "1h"}, true},
		{"bad idle", DatabaseConfig{DSN: "x", MaxConnections: 1, MaxIdleTime: "soon", MaxLifetime: "1h"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfigDurations(t *testing.T) {
	cfg := DatabaseConfig{MaxIdleTime: "90s", MaxLifetime: "2h"}
	idle, life := cfg.Durations()
	assert.Equal(t, 90*time.Second, idle)
	assert.Equal(t, 2*time.Hour, life)
}

func TestLoadBlockchainConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "client_config.yml", `
blockchain_type: simulated
explorer_url_template: "https://explorer.example/tx/%s"
`)

	cfg, err := LoadBlockchainConfig(path, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "simulated", cfg.BlockchainType)
	assert.Equal(t, 20, cfg.RetryLimit)
	assert.Equal(t, "farmtrace", cfg.SubmitterID)
}

func TestBlockchainConfigRejectsTemplateWithoutPlaceholder(t *testing.T) {
	cfg := BlockchainConfig{ExplorerURLTemplate: "https://explorer.example/tx/"}
	assert.Error(t, cfg.Validate())

	cfg.ExplorerURLTemplate = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadTrackingConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tracking.yml", `
database:
  dsn: "memory://"
kafka_producer:
  brokers: ["kafka:9092"]
`)

	_, err := LoadTrackingConfig(path, logger.Nop())
	require.Error(t, err, "a real broker needs a topic")

	path = writeFile(t, dir, "tracking.yml", `
database:
  dsn: "memory://"
kafka_producer:
  brokers: ["kafka:9092"]
  topic: activities
batch_processor:
  batch_size: 10
`)
	cfg, err := LoadTrackingConfig(path, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.BatchProcessor.BatchSize)
	assert.Equal(t, 10000, cfg.BatchProcessor.MaxBufferSize)
	assert.Equal(t, "all", cfg.KafkaProducer.RequiredAcks)
}

func TestLoadConfigSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "client_config.yml", "blockchain_type: simulated\n")

	cfg, err := LoadConfig(dir, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, cfg.Engine)
	assert.Nil(t, cfg.Tracking)
	require.NotNil(t, cfg.Blockchain)
	assert.Equal(t, "simulated", cfg.Blockchain.BlockchainType)
}

func TestShippedConfigsLoad(t *testing.T) {
	cfg, err := LoadConfig(".", logger.Nop())
	require.NoError(t, err)

	require.NotNil(t, cfg.Engine)
	assert.True(t, cfg.Engine.Database.IsMemory())
	assert.True(t, cfg.Engine.KafkaConsumer.IsMock())
	assert.True(t, cfg.Engine.Reconciler.Enabled)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.KafkaProducer.BatchTimeout)

	require.NotNil(t, cfg.Tracking)
	assert.False(t, cfg.Tracking.KafkaProducer.IsMock())
	assert.Equal(t, 100*time.Millisecond, cfg.Tracking.BatchProcessor.BatchTimeout)

	require.NotNil(t, cfg.Blockchain)
	assert.Equal(t, "simulated", cfg.Blockchain.BlockchainType)
}

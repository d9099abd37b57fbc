package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StoreMySQL, cfg.Store)
	assert.Equal(t, 3, cfg.CommandConfig.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.CommandConfig.IdempotencyTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaConfig.Brokers)
	assert.False(t, cfg.TLSConfig.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 5, cfg.CommandConfig.MaxAttempts)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaConfig.Brokers)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GRPC_PORT=6000\nLOW_STOCK_THRESHOLD=2.5\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("GRPC_PORT")
		os.Unsetenv("LOW_STOCK_THRESHOLD")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "6000", cfg.GRPCPort)
	assert.Equal(t, "2.5", cfg.CommandConfig.LowStockThreshold)
}

func TestLoad_UnknownStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "unknown store backend")
}

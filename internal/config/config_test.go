package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.StaleOnTheWay)
	assert.Equal(t, 25*time.Minute, cfg.StaleOnTrip)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG", "")
	t.Setenv("DISPATCH_HTTP_ADDR", ":9090")
	t.Setenv("DISPATCH_POLL_INTERVAL", "3s")
	t.Setenv("DISPATCH_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DISPATCH_LOG_LEVEL", "DEBUG")
	t.Setenv("DISPATCH_RUN_MIGRATIONS", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.RunMigrations)
	// untouched keys keep their defaults
	assert.Equal(t, "drivers_geo", cfg.RedisGeoKey)
}

func TestYAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stale_on_trip: 40m\nredis_addr: redis:6379\nhttp_addr: \":7070\"\n"), 0o600))
	t.Setenv("DISPATCH_HTTP_ADDR", ":6060")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Minute, cfg.StaleOnTrip)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, ":6060", cfg.HTTPAddr)
	assert.Equal(t, 40*time.Minute, cfg.Thresholds().OnTrip)
}

func TestInvalidValuesAreJoined(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG", "")
	t.Setenv("DISPATCH_POLL_INTERVAL", "0s")
	t.Setenv("DISPATCH_STALE_ARRIVED", "-1m")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
	assert.Contains(t, err.Error(), "stale_arrived")
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Load("settings.toml")
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1500*time.Millisecond, cfg.Room.DriftThreshold)
	assert.Equal(t, 10*time.Second, cfg.Room.RequestCooldown)
	assert.Equal(t, 10*time.Minute, cfg.Room.RequestMaxAge)
	assert.Equal(t, 200, cfg.Room.QuickMessageMaxLen)
	assert.Equal(t, 200, cfg.Chat.HistoryLimit)
	assert.Equal(t, 24*time.Hour, cfg.Chat.Retention)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong not after ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"zero drift threshold", func(c *Config) { c.Room.DriftThreshold = 0 }},
		{"zero guard window", func(c *Config) { c.Room.GuardWindow = 0 }},
		{"negative cooldown", func(c *Config) { c.Room.RequestCooldown = -time.Second }},
		{"zero request max age", func(c *Config) { c.Room.RequestMaxAge = 0 }},
		{"zero quick message length", func(c *Config) { c.Room.QuickMessageMaxLen = 0 }},
		{"zero chat length", func(c *Config) { c.Chat.MaxLength = 0 }},
		{"zero chat history", func(c *Config) { c.Chat.HistoryLimit = 0 }},
		{"zero publisher workers", func(c *Config) { c.Events.Workers = 0 }},
		{"max delay below base delay", func(c *Config) { c.Events.MaxDelay = c.Events.BaseDelay / 2 }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"redis without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
		{"redis with short lease", func(c *Config) { c.Redis.Enabled = true; c.Redis.LeaseTTL = 100 * time.Millisecond }},
		{"broker without uri", func(c *Config) { c.Broker.Enabled = true; c.Broker.URI = "" }},
		{"catalog without timeout", func(c *Config) { c.Catalog.BaseURL = "http://catalog"; c.Catalog.Timeout = 0 }},
		{"backup with unknown storage", func(c *Config) { c.Backup.Enabled = true; c.Backup.Storage = "ftp" }},
		{"s3 backup without bucket", func(c *Config) { c.Backup.Enabled = true; c.Backup.Storage = "s3" }},
		{"empty session secret", func(c *Config) { c.Auth.SessionSecret = "" }},
		{"tracing sampling out of range", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SamplingRate = 2 }},
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"ws burst must be > 0", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.WebSocket.Burst = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  address: ":9999"
room:
  drift_threshold: 2s
  request_cooldown: 5s
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Room.DriftThreshold)
	assert.Equal(t, 5*time.Second, cfg.Room.RequestCooldown)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 300*time.Millisecond, cfg.Room.GuardWindow)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("room:\n  drift_threshold: 0s\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ECHOFRAME_SERVER_ADDRESS", ":7070")
	t.Setenv("ECHOFRAME_REDIS_ADDRESS", "redis:6379")
	t.Setenv("ECHOFRAME_TRACING_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
}

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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0.5, cfg.Server.RateLimit)
	assert.Equal(t, 5, cfg.Server.RateBurst)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "sandbox-", cfg.Sandbox.ImagePrefix)
	assert.Equal(t, int64(128), cfg.Sandbox.MemoryMB)
	assert.Equal(t, int64(64), cfg.Sandbox.WorkspaceMB)
	assert.Equal(t, int64(10), cfg.Sandbox.MaxFileSizeMB)
	assert.Equal(t, int64(50000), cfg.Sandbox.CPUQuota)
	assert.Equal(t, "1000:1000", cfg.Sandbox.User)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.KillGrace)
	assert.Equal(t, 16, cfg.Execution.MaxConcurrency)
	assert.Equal(t, time.Minute, cfg.Execution.ReapInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 45*time.Second, cfg.OrphanAge())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
storage:
  backend: sqlite
  sqlite:
    path: /tmp/x.db
sandbox:
  timeout: 10s
logging:
  level: debug
  format: json
`), 0o600))

	t.Setenv("CODESTREAM_EXECUTION_MAX_CONCURRENCY", "4")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.Execution.MaxConcurrency)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"zero memory", func(c *Config) { c.Sandbox.MemoryMB = 0 }},
		{"zero workspace", func(c *Config) { c.Sandbox.WorkspaceMB = 0 }},
		{"zero timeout", func(c *Config) { c.Sandbox.Timeout = 0 }},
		{"sub-second kill grace", func(c *Config) { c.Sandbox.KillGrace = 500 * time.Millisecond }},
		{"zero concurrency", func(c *Config) { c.Execution.MaxConcurrency = 0 }},
		{"zero send timeout", func(c *Config) { c.Execution.SendTimeout = 0 }},
		{"no user", func(c *Config) { c.Sandbox.User = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero rate", func(c *Config) { c.Server.RateLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			require.NoError(t, cfg.validate())

			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

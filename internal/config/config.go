package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the HTTP surface configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the record store backend
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Redis   RedisConfig  `mapstructure:"redis"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// SandboxConfig holds the limits applied to every sandbox container
type SandboxConfig struct {
	DockerHost    string        `mapstructure:"docker_host"`
	ImagePrefix   string        `mapstructure:"image_prefix"`
	MemoryMB      int64         `mapstructure:"memory_mb"`
	CPUQuota      int64         `mapstructure:"cpu_quota"`
	CPUPeriod     int64         `mapstructure:"cpu_period"`
	CPUShares     int64         `mapstructure:"cpu_shares"`
	PidsLimit     int64         `mapstructure:"pids_limit"`
	MaxFileSizeMB int64         `mapstructure:"max_file_size_mb"`
	MaxOpenFiles  int64         `mapstructure:"max_open_files"`
	User          string        `mapstructure:"user"`
	WorkspaceDir  string        `mapstructure:"workspace_dir"`
	WorkspaceMB   int64         `mapstructure:"workspace_size_mb"`
	StagingDir    string        `mapstructure:"staging_dir"`
	Timeout       time.Duration `mapstructure:"timeout"`
	KillGrace     time.Duration `mapstructure:"kill_grace"`
}

// ExecutionConfig holds orchestrator tuning
type ExecutionConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	QueueSize      int           `mapstructure:"queue_size"`
	SinkBuffer     int           `mapstructure:"sink_buffer"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 0.5)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "codestream:execution:")
	v.SetDefault("storage.sqlite.path", "codestream.db")

	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.image_prefix", "sandbox-")
	v.SetDefault("sandbox.memory_mb", 128)
	v.SetDefault("sandbox.cpu_quota", 50000)
	v.SetDefault("sandbox.cpu_period", 100000)
	v.SetDefault("sandbox.cpu_shares", 512)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.max_file_size_mb", 10)
	v.SetDefault("sandbox.max_open_files", 1024)
	v.SetDefault("sandbox.user", "1000:1000")
	v.SetDefault("sandbox.workspace_dir", "/workspace")
	v.SetDefault("sandbox.workspace_size_mb", 64)
	v.SetDefault("sandbox.staging_dir", "/home/runner")
	v.SetDefault("sandbox.timeout", 30*time.Second)
	v.SetDefault("sandbox.kill_grace", 5*time.Second)

	v.SetDefault("execution.max_concurrency", 16)
	v.SetDefault("execution.queue_size", 64)
	v.SetDefault("execution.sink_buffer", 256)
	v.SetDefault("execution.send_timeout", 5*time.Second)
	v.SetDefault("execution.reap_interval", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads the configuration from path, or from codestream.yaml in . or
// ./config when path is empty, then applies CODESTREAM_* environment
// overrides and validates the result. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codestream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CODESTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("storage.redis.addr", "CODESTREAM_STORAGE_REDIS_ADDR", "REDIS_ADDR"); err != nil {
		return nil, fmt.Errorf("error binding env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &cfg, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must be positive, got: %v/%d", c.Server.RateLimit, c.Server.RateBurst)
	}

	switch c.Storage.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unsupported storage.backend: %s, must be 'memory', 'redis' or 'sqlite'", c.Storage.Backend)
	}

	positive := map[string]int64{
		"sandbox.memory_mb":          c.Sandbox.MemoryMB,
		"sandbox.cpu_quota":          c.Sandbox.CPUQuota,
		"sandbox.cpu_period":         c.Sandbox.CPUPeriod,
		"sandbox.cpu_shares":         c.Sandbox.CPUShares,
		"sandbox.pids_limit":         c.Sandbox.PidsLimit,
		"sandbox.max_file_size_mb":   c.Sandbox.MaxFileSizeMB,
		"sandbox.max_open_files":     c.Sandbox.MaxOpenFiles,
		"sandbox.workspace_size_mb":  c.Sandbox.WorkspaceMB,
		"execution.max_concurrency":  int64(c.Execution.MaxConcurrency),
		"execution.queue_size":       int64(c.Execution.QueueSize),
		"execution.sink_buffer":      int64(c.Execution.SinkBuffer),
		"sandbox.timeout_seconds":    int64(c.Sandbox.Timeout / time.Second),
		"sandbox.kill_grace_seconds": int64(c.Sandbox.KillGrace / time.Second),
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got: %d", name, value)
		}
	}

	if c.Execution.SendTimeout <= 0 || c.Execution.ReapInterval <= 0 {
		return errors.New("execution.send_timeout and execution.reap_interval must be positive")
	}
	if c.Sandbox.User == "" || c.Sandbox.WorkspaceDir == "" || c.Sandbox.StagingDir == "" {
		return errors.New("sandbox.user, sandbox.workspace_dir and sandbox.staging_dir are required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s, must be 'text' or 'json'", c.Logging.Format)
	}

	return nil
}

// OrphanAge is how old an unowned sandbox must be before the reaper removes
// it: longer than any container can legitimately live.
func (c *Config) OrphanAge() time.Duration {
	return c.Sandbox.Timeout + c.Sandbox.KillGrace + 10*time.Second
}

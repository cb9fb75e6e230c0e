package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/harshakreox/ghostqa/internal/domain"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the orchestrator service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"GHOSTQA_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"GHOSTQA_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Execution history and event bus backends
	Storage StorageConfig

	// Feature/Project Store
	Catalog CatalogConfig

	// Execution Engine
	Engine EngineConfig

	// Worker configuration
	Workers WorkerConfig

	// Orchestrator defaults, replaced at runtime through update_config
	Orchestrator OrchestratorConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// StorageConfig selects where records and events live.
type StorageConfig struct {
	Backend       string        `env:"STORAGE_BACKEND" envDefault:"memory"`
	HistoryLimit  int           `env:"STORAGE_HISTORY_LIMIT" envDefault:"1000"`
	RecordTTL     time.Duration `env:"STORAGE_RECORD_TTL" envDefault:"168h"`
	StreamMaxLen  int64         `env:"EVENTS_STREAM_MAX_LEN" envDefault:"10000"`
	ConsumerGroup string        `env:"EVENTS_CONSUMER_GROUP" envDefault:"ghostqa-orchestrator"`
	ConsumerName  string        `env:"EVENTS_CONSUMER_NAME"`
}

// CatalogConfig holds the Feature/Project Store connection.
type CatalogConfig struct {
	Driver       string        `env:"CATALOG_DRIVER" envDefault:"sqlite"`
	DSN          string        `env:"CATALOG_DSN" envDefault:"file:ghostqa.db"`
	MaxOpenConns int           `env:"CATALOG_MAX_OPEN_CONNS" envDefault:"10"`
	PingTimeout  time.Duration `env:"CATALOG_PING_TIMEOUT" envDefault:"5s"`
	EnsureSchema bool          `env:"CATALOG_ENSURE_SCHEMA" envDefault:"true"`
}

// EngineConfig locates the Execution Engine.
type EngineConfig struct {
	URL     string        `env:"ENGINE_URL" envDefault:"http://localhost:8090"`
	Timeout time.Duration `env:"ENGINE_TIMEOUT" envDefault:"30m"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	MinPoolSize int `env:"WORKER_MIN_POOL_SIZE" envDefault:"1"`
}

// OrchestratorConfig holds the boot-time orchestrator settings.
type OrchestratorConfig struct {
	AutoStart                   bool          `env:"ORCH_AUTO_START" envDefault:"false"`
	Enabled                     bool          `env:"ORCH_ENABLED" envDefault:"true"`
	MaxConcurrentExecutions     int           `env:"ORCH_MAX_CONCURRENT_EXECUTIONS" envDefault:"2"`
	PollIntervalSeconds         int           `env:"ORCH_POLL_INTERVAL_SECONDS" envDefault:"30"`
	DiscoveryIntervalSeconds    int           `env:"ORCH_DISCOVERY_INTERVAL_SECONDS" envDefault:"300"`
	AutoDiscoverNewFeatures     bool          `env:"ORCH_AUTO_DISCOVER_NEW_FEATURES" envDefault:"true"`
	AutoRunOnFeatureChange      bool          `env:"ORCH_AUTO_RUN_ON_FEATURE_CHANGE" envDefault:"true"`
	ContinuousRegressionEnabled bool          `env:"ORCH_CONTINUOUS_REGRESSION_ENABLED" envDefault:"false"`
	RegressionIntervalHours     int           `env:"ORCH_REGRESSION_INTERVAL_HOURS" envDefault:"24"`
	HeadlessMode                bool          `env:"ORCH_HEADLESS_MODE" envDefault:"true"`
	ExecutionMode               string        `env:"ORCH_EXECUTION_MODE" envDefault:"guided"`
	RetryCeiling                int           `env:"ORCH_RETRY_CEILING" envDefault:"3"`
	RetryBaseDelay              time.Duration `env:"ORCH_RETRY_BASE_DELAY" envDefault:"5s"`
	RetryMaxDelay               time.Duration `env:"ORCH_RETRY_MAX_DELAY" envDefault:"5m"`
	ResetAttemptsOnUpgrade      bool          `env:"ORCH_RESET_ATTEMPTS_ON_UPGRADE" envDefault:"false"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory or redis)", c.Storage.Backend)
	}

	switch c.Catalog.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported catalog driver: %s (must be sqlite or postgres)", c.Catalog.Driver)
	}
	if c.Catalog.DSN == "" {
		return fmt.Errorf("catalog DSN is required")
	}

	if c.Engine.URL == "" {
		return fmt.Errorf("engine URL is required")
	}
	if c.Workers.MinPoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Timeouts.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if err := c.Orchestrator.Settings().Validate(); err != nil {
		return err
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Settings converts the boot-time values into the live config type.
func (o OrchestratorConfig) Settings() domain.OrchestratorConfig {
	return domain.OrchestratorConfig{
		Enabled:                     o.Enabled,
		MaxConcurrentExecutions:     o.MaxConcurrentExecutions,
		PollIntervalSeconds:         o.PollIntervalSeconds,
		DiscoveryIntervalSeconds:    o.DiscoveryIntervalSeconds,
		AutoDiscoverNewFeatures:     o.AutoDiscoverNewFeatures,
		AutoRunOnFeatureChange:      o.AutoRunOnFeatureChange,
		ContinuousRegressionEnabled: o.ContinuousRegressionEnabled,
		RegressionIntervalHours:     o.RegressionIntervalHours,
		HeadlessMode:                o.HeadlessMode,
		ExecutionMode:               o.ExecutionMode,
		RetryCeiling:                o.RetryCeiling,
		RetryBaseDelay:              domain.Duration(o.RetryBaseDelay),
		RetryMaxDelay:               domain.Duration(o.RetryMaxDelay),
		ResetAttemptsOnUpgrade:      o.ResetAttemptsOnUpgrade,
	}
}


package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for cellvert
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CELLVERT_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"CELLVERT_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// EventBus selects the transport between host and orchestrator: memory or redis
	EventBus string `env:"EVENT_BUS" envDefault:"memory"`

	// Redis configuration
	Redis RedisConfig

	// Backend configuration
	Backend BackendConfig

	// Orchestrator configuration
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

	// Streams consumer settings
	ConsumerGroup string        `env:"REDIS_CONSUMER_GROUP" envDefault:"cellvert"`
	ConsumerName  string        `env:"REDIS_CONSUMER_NAME" envDefault:"cellvert-1"`
	BlockTimeout  time.Duration `env:"REDIS_BLOCK_TIMEOUT" envDefault:"2s"`
}

// BackendConfig holds versioning backend configuration
type BackendConfig struct {
	// Kind is http, script or memory
	Kind    string        `env:"BACKEND_KIND" envDefault:"http"`
	URL     string        `env:"BACKEND_URL" envDefault:"http://localhost:8888"`
	Token   string        `env:"BACKEND_TOKEN"`
	Timeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`

	MaxAttempts uint          `env:"BACKEND_MAX_ATTEMPTS" envDefault:"2"`
	RetryDelay  time.Duration `env:"BACKEND_RETRY_DELAY" envDefault:"500ms"`

	ScriptDir    string `env:"SCRIPT_DIR" envDefault:"."`
	CommitScript string `env:"SCRIPT_COMMIT" envDefault:"jupyter_fs/script/commit.sh"`
	RevertScript string `env:"SCRIPT_REVERT" envDefault:"jupyter_fs/script/revert.sh"`
}

// OrchestratorConfig holds state machine and monitoring configuration
type OrchestratorConfig struct {
	HostEchoesRuns      bool          `env:"HOST_ECHOES_RUNS" envDefault:"true"`
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	StuckThreshold      time.Duration `env:"STUCK_THRESHOLD" envDefault:"2m"`
	HistoryTTL          time.Duration `env:"HISTORY_TTL" envDefault:"24h"`
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

	switch c.EventBus {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported event bus: %s (must be memory or redis)", c.EventBus)
	}

	// Validate backend config
	switch c.Backend.Kind {
	case "http":
		u, err := url.Parse(c.Backend.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid backend URL: %q", c.Backend.URL)
		}
	case "script":
		if c.Backend.CommitScript == "" || c.Backend.RevertScript == "" {
			return fmt.Errorf("commit and revert scripts are required for the script backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported backend: %s (must be http, script or memory)", c.Backend.Kind)
	}
	if c.Backend.MaxAttempts < 1 {
		return fmt.Errorf("backend max attempts must be at least 1")
	}

	if c.Orchestrator.HealthCheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive")
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

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

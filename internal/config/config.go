package config

import (
	"time"
)

// Config represents the complete application configuration. Values are
// layered as defaults, then the user config file, then RATELANE_* environment
// variables, then runtime overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	REST    RESTConfig    `mapstructure:"rest"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Workers int           `mapstructure:"workers"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects where learned bucket hashes are persisted.
//
// Driver "libsql" (default) uses Path or URL. Driver "redis" uses URL or
// RedisAddr, with AuthToken as the password.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	URL         string `mapstructure:"url"`
	AuthToken   string `mapstructure:"auth_token"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// RESTConfig configures the request scheduler.
type RESTConfig struct {
	API               string            `mapstructure:"api"`
	Version           string            `mapstructure:"version"`
	Token             string            `mapstructure:"token"`
	AuthPrefix        string            `mapstructure:"auth_prefix"`
	UserAgentAppendix string            `mapstructure:"user_agent_appendix"`
	Headers           map[string]string `mapstructure:"headers"`

	GlobalRequestsPerSecond       int           `mapstructure:"global_requests_per_second"`
	Offset                        time.Duration `mapstructure:"offset"`
	Retries                       int           `mapstructure:"retries"`
	Timeout                       time.Duration `mapstructure:"timeout"`
	HashSweepInterval             time.Duration `mapstructure:"hash_sweep_interval"`
	HandlerSweepInterval          time.Duration `mapstructure:"handler_sweep_interval"`
	HashLifetime                  time.Duration `mapstructure:"hash_lifetime"`
	InvalidRequestWarningInterval int           `mapstructure:"invalid_request_warning_interval"`

	// RejectOnRateLimit lists bucket route prefixes that fail fast with a
	// rate limit error instead of waiting.
	RejectOnRateLimit []string `mapstructure:"reject_on_rate_limit"`
	BurstRoutes       []string `mapstructure:"burst_routes"`

	// PersistHashes restores bucket hashes from the store on start and saves
	// them on shutdown.
	PersistHashes bool `mapstructure:"persist_hashes"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles per Fulmen Forge Workhorse Standard:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active. In debug mode the
	// scheduler's debug hook is routed to the logger.
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

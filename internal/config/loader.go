// Package config provides centralized configuration management for ratelane.
// It layers configuration the way the rest of the Fulmen tooling does:
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: the user config file, discovered via XDG paths or --config
// Layer 3: RATELANE_* environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/namelens/ratelane/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	activeViper *viper.Viper
	configFile  string
	configMu    sync.RWMutex
	appIdentity *appid.Identity
)

// envAliases maps config keys to the short environment variable names
// accepted in addition to the automatic RATELANE_SECTION_KEY form.
var envAliases = map[string]string{
	"server.host":             "HOST",
	"server.port":             "PORT",
	"server.read_timeout":     "READ_TIMEOUT",
	"server.write_timeout":    "WRITE_TIMEOUT",
	"server.idle_timeout":     "IDLE_TIMEOUT",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",

	"logging.level":   "LOG_LEVEL",
	"logging.profile": "LOG_PROFILE",

	"store.driver":     "DB_DRIVER",
	"store.path":       "DB_PATH",
	"store.url":        "DB_URL",
	"store.auth_token": "DB_AUTH_TOKEN",

	"rest.token":   "TOKEN",
	"rest.api":     "API",
	"rest.retries": "RETRIES",
}

// SetConfigFile pins the config file used by the next Load. An empty path
// restores XDG discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "ratelane")

	// Scheduler defaults
	v.SetDefault("rest.api", "https://discord.com/api")
	v.SetDefault("rest.version", "10")
	v.SetDefault("rest.token", "")
	v.SetDefault("rest.auth_prefix", "Bot")
	v.SetDefault("rest.user_agent_appendix", "")
	v.SetDefault("rest.headers", map[string]string{})
	v.SetDefault("rest.global_requests_per_second", 50)
	v.SetDefault("rest.offset", "50ms")
	v.SetDefault("rest.retries", 3)
	v.SetDefault("rest.timeout", "15s")
	v.SetDefault("rest.hash_sweep_interval", "4h")
	v.SetDefault("rest.handler_sweep_interval", "1h")
	v.SetDefault("rest.hash_lifetime", "24h")
	v.SetDefault("rest.invalid_request_warning_interval", 0)
	v.SetDefault("rest.reject_on_rate_limit", []string{})
	v.SetDefault("rest.burst_routes", []string{"/interactions/*/*/callback"})
	v.SetDefault("rest.persist_hashes", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Worker defaults
	v.SetDefault("workers", 4)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// Load loads configuration using the three-layer pattern.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	identity, err := identity(ctx)
	if err != nil {
		return nil, err
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	SetDefaults(v)
	configure(v, identity, explicit)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, overrides := range runtimeOverrides {
		for key, value := range flattenOverrides("", overrides) {
			v.Set(key, value)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	setConfig(cfg, v)
	return cfg, nil
}

// Watch reloads the configuration whenever the loaded config file changes and
// reports each reload to onChange. It returns false when no config file was
// loaded.
func Watch(onChange func(cfg *Config, event fsnotify.Event, err error)) bool {
	configMu.RLock()
	v := activeViper
	configMu.RUnlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		cfg, err := decode(v)
		if err == nil {
			setConfig(cfg, v)
		}
		if onChange != nil {
			onChange(cfg, event, err)
		}
	})
	v.WatchConfig()
	return true
}

// ConfigFileUsed returns the config file read by the last Load, if any.
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	if activeViper == nil {
		return ""
	}
	return activeViper.ConfigFileUsed()
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config, v *viper.Viper) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
	activeViper = v
}

func identity(ctx context.Context) (*appid.Identity, error) {
	configMu.RLock()
	cached := appIdentity
	configMu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	loaded, err := appid.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load app identity: %w", err)
	}

	configMu.Lock()
	appIdentity = loaded
	configMu.Unlock()
	return loaded, nil
}

func configure(v *viper.Viper, identity *appid.Identity, explicit string) {
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		if dir := gfconfig.GetAppConfigDir(identity.ConfigName); strings.TrimSpace(dir) != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	prefix := identity.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	keys := make([]string, 0, len(envAliases))
	for key := range envAliases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		full := prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, full, prefix+envAliases[key])
	}
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values that cannot work together.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Store.Driver) {
	case "", "libsql", "redis":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.REST.GlobalRequestsPerSecond < 1 {
		return fmt.Errorf("rest.global_requests_per_second must be at least 1")
	}
	if c.REST.Retries < 0 {
		return fmt.Errorf("rest.retries must not be negative")
	}
	return nil
}

func flattenOverrides(prefix string, values map[string]any) map[string]any {
	flat := map[string]any{}
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && !strings.HasSuffix(full, "headers") {
			for k, v := range flattenOverrides(full, nested) {
				flat[k] = v
			}
			continue
		}
		flat[full] = value
	}
	return flat
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "ratelane" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "ratelane"
	binaryName = "ratelane"

	configMu.RLock()
	identity := appIdentity
	configMu.RUnlock()
	if identity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(identity.ConfigName) != "" {
		configName = identity.ConfigName
	}
	if strings.TrimSpace(identity.BinaryName) != "" {
		binaryName = identity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// EnvPrefix returns the environment variable prefix including the trailing
// underscore.
func EnvPrefix() string {
	configMu.RLock()
	identity := appIdentity
	configMu.RUnlock()
	if identity == nil || identity.EnvPrefix == "" {
		return "RATELANE_"
	}
	return identity.EnvPrefix
}

// WriteDefaultConfig writes a starter config file to path unless one exists.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	v := viper.New()
	SetDefaults(v)
	v.Set("store.path", DefaultStorePath())

	// #nosec G301 -- config directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-proxy/config.toml",
	"configs/config.toml",
	"configs/config.yaml",
}

// reservedRoutes are served by the proxy itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	RedisURL      string `kong:"name='redis-url',help='Cache store URL, e.g. redis://localhost:6379/0 (overrides config).',env='REDIS_URL'"`
	RedisHost     string `kong:"name='redis-host',help='Cache store host (overrides config).',env='REDIS_HOST'"`
	RedisPort     int    `kong:"name='redis-port',help='Cache store port (overrides config).',env='REDIS_PORT'"`
	RedisPassword string `kong:"name='redis-password',help='Cache store password (overrides config).',env='REDIS_PASSWORD'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig        `toml:"server" yaml:"server"`
	Cache        CacheConfig         `toml:"cache" yaml:"cache"`
	Log          LogConfig           `toml:"log" yaml:"log"`
	Metrics      MetricsConfig       `toml:"metrics" yaml:"metrics"`
	Applications []ApplicationConfig `toml:"applications" yaml:"applications"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8000)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP inbound request limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// CacheConfig holds the key-value cache store coordinates.
// URL wins over the discrete fields when both are set.
type CacheConfig struct {
	URL      string `toml:"url" yaml:"url"`
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// ApplicationConfig is one client application allowed to use the proxy.
type ApplicationConfig struct {
	ID     string   `toml:"id" yaml:"id"`
	Name   string   `toml:"name" yaml:"name"`
	Key    string   `toml:"key" yaml:"key"`
	Accept []string `toml:"accept" yaml:"accept"`

	// Timeout is the upstream timeout in milliseconds; 0 means the default (5000).
	Timeout int `toml:"timeout" yaml:"timeout"`

	// CacheTimeout is the cache TTL in seconds. Nil or <= 0 disables caching.
	CacheTimeout *int `toml:"cache_timeout" yaml:"cache_timeout"`
}

// DefaultApplicationTimeoutMs is applied to applications without a timeout.
const DefaultApplicationTimeoutMs = 5000

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/cors-proxy/config.toml, configs/config.toml, then configs/config.yaml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := unmarshal(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// unmarshal decodes data according to the file extension. Anything that is
// not .yaml/.yml is treated as TOML.
func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.RedisURL != "" {
		c.Cache.URL = cli.RedisURL
	}
	if cli.RedisHost != "" {
		c.Cache.Host = cli.RedisHost
	}
	if cli.RedisPort != 0 {
		c.Cache.Port = cli.RedisPort
	}
	if cli.RedisPassword != "" {
		c.Cache.Password = cli.RedisPassword
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Cache store coordinates.
	if c.Cache.URL != "" {
		if _, err := redis.ParseURL(c.Cache.URL); err != nil {
			return fmt.Errorf("cache.url is not a valid redis URL: %w", err)
		}
	}
	if c.Cache.Port < 0 || c.Cache.Port > 65535 {
		return fmt.Errorf("cache.port must be 0–65535; got %d", c.Cache.Port)
	}
	if c.Cache.DB < 0 {
		return fmt.Errorf("cache.db must be non-negative; got %d", c.Cache.DB)
	}

	if err := c.validateApplications(); err != nil {
		return err
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with the proxy route", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// validateApplications enforces non-empty, unique keys and ids. Ids are
// compared case-insensitively because the lowercased id namespaces cache keys.
func (c *Config) validateApplications() error {
	if len(c.Applications) == 0 {
		return fmt.Errorf("at least one [[applications]] entry is required")
	}

	keys := make(map[string]string, len(c.Applications))
	ids := make(map[string]bool, len(c.Applications))
	for i, app := range c.Applications {
		if app.ID == "" {
			return fmt.Errorf("applications[%d].id is required", i)
		}
		if app.Key == "" {
			return fmt.Errorf("applications[%d] (%s): key is required", i, app.ID)
		}
		if app.Timeout < 0 {
			return fmt.Errorf("applications[%d] (%s): timeout must be non-negative; got %d", i, app.ID, app.Timeout)
		}
		if owner, dup := keys[app.Key]; dup {
			return fmt.Errorf("applications[%d] (%s): key is already used by %q", i, app.ID, owner)
		}
		keys[app.Key] = app.ID

		id := strings.ToLower(app.ID)
		if ids[id] {
			return fmt.Errorf("applications[%d]: duplicate id %q", i, app.ID)
		}
		ids[id] = true
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset".
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Cache.Host != "" && c.Cache.Port == 0 {
		c.Cache.Port = 6379
	}
	for i := range c.Applications {
		if c.Applications[i].Timeout == 0 {
			c.Applications[i].Timeout = DefaultApplicationTimeoutMs
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a cache store is configured at all.
func (c *CacheConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// RedisOptions builds go-redis client options from the configured coordinates.
func (c *CacheConfig) RedisOptions() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse cache.url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}, nil
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; it holds application keys, consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

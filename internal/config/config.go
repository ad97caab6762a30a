// Package config handles CLI, TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	toml "github.com/pelletier/go-toml/v2"
)

func init() {
	// Report validation errors under the same keys used in the config file.
	validation.ErrorTag = "toml"
}

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tired-proxy/config.toml",
	"configs/config.toml",
}

// Defaults applied to zero-valued fields.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultUpstreamURL     = "http://127.0.0.1:3000"
	DefaultIdleConnections = 100
	DefaultRequestTimeout  = 10 * time.Second
	DefaultIdleTimeout     = 900 * time.Second
	DefaultCheckInterval   = time.Second
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string        `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Forward        string        `kong:"short='f',help='Upstream base URL to forward to (overrides config).',env='FORWARD_URL'"`
	Host           string        `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int           `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	IdleTimeout    time.Duration `kong:"help='Exit after this long without inbound requests (overrides config).',env='IDLE_TIMEOUT'"`
	RequestTimeout time.Duration `kong:"help='Maximum duration of one upstream round-trip (overrides config).',env='REQUEST_TIMEOUT'"`
	LogLevel       string        `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat      string        `kong:"help='Log format: json|text (overrides config).',env='LOG_FORMAT'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Idle     IdleConfig     `toml:"idle"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Health   HealthConfig   `toml:"health"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string          `toml:"host"`
	Port           int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	RequestTimeout Duration        `toml:"request_timeout"`
	BodyMaxBytes   int64           `toml:"body_max_bytes"` // 0 means unlimited
	StripHopByHop  bool            `toml:"strip_hop_by_hop"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	IdleConnections int    `toml:"idle_connections"`
	// RewriteHost sends the upstream host as Host instead of the inbound one.
	RewriteHost bool `toml:"rewrite_host"`
}

// IdleConfig holds the idle watchdog settings.
type IdleConfig struct {
	Timeout       Duration `toml:"timeout"`
	CheckInterval Duration `toml:"check_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// HealthConfig holds the liveness and status endpoint settings.
type HealthConfig struct {
	Enabled    bool   `toml:"enabled"`
	Path       string `toml:"path"`
	StatusPath string `toml:"status_path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tired-proxy/config.toml then configs/config.toml. Finding neither is
// not an error: defaults and CLI flags are enough to run.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Forward != "" {
		c.Upstream.BaseURL = cli.Forward
	}
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.IdleTimeout != 0 {
		c.Idle.Timeout = Duration{cli.IdleTimeout}
	}
	if cli.RequestTimeout != 0 {
		c.Server.RequestTimeout = Duration{cli.RequestTimeout}
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
	}
}

// setDefaults fills zero-valued fields with defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. Negative values are kept so that
// validation rejects them.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.RequestTimeout.Duration == 0 {
		c.Server.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamURL
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = DefaultIdleConnections
	}
	if c.Idle.Timeout.Duration == 0 {
		c.Idle.Timeout.Duration = DefaultIdleTimeout
	}
	if c.Idle.CheckInterval.Duration == 0 {
		c.Idle.CheckInterval.Duration = DefaultCheckInterval
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Health.Path == "" {
		c.Health.Path = "/healthz"
	}
	if c.Health.StatusPath == "" {
		c.Health.StatusPath = "/proxy/status"
	}
}

func (c *Config) validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Upstream),
		validation.Field(&c.Idle),
		validation.Field(&c.Log),
		validation.Field(&c.Metrics),
		validation.Field(&c.Health),
	); err != nil {
		return err
	}

	// Admin routes shadow the same paths on the upstream, and must not
	// shadow each other.
	if c.Metrics.Enabled && c.Health.Enabled {
		for _, reserved := range []string{c.Health.Path, c.Health.StatusPath} {
			if pathOverlaps(c.Metrics.Path, reserved) {
				return fmt.Errorf("metrics.path %q conflicts with health route %q", c.Metrics.Path, reserved)
			}
		}
	}
	return nil
}

// Validate implements validation.Validatable.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, validation.Required),
		validation.Field(&s.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.RequestTimeout, validation.By(positiveDuration)),
		validation.Field(&s.BodyMaxBytes, validation.Min(int64(0))),
		validation.Field(&s.RateLimit),
	)
}

// Validate implements validation.Validatable.
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond, validation.When(r.Enabled, validation.Required, validation.Min(0.0).Exclusive())),
	)
}

// Validate implements validation.Validatable.
func (u UpstreamConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.BaseURL, validation.Required, validation.By(validateUpstreamURL)),
		validation.Field(&u.IdleConnections, validation.Min(0)),
	)
}

// Validate implements validation.Validatable.
func (i IdleConfig) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Timeout, validation.By(positiveDuration)),
		validation.Field(&i.CheckInterval, validation.By(positiveDuration)),
	)
}

// Validate implements validation.Validatable.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "text")),
	)
}

// Validate implements validation.Validatable.
func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Path, validation.When(m.Enabled, validation.By(validateRoutePath))),
	)
}

// Validate implements validation.Validatable.
func (h HealthConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Path, validation.When(h.Enabled, validation.By(validateRoutePath))),
		validation.Field(&h.StatusPath, validation.When(h.Enabled, validation.By(validateRoutePath))),
	)
}

// validateUpstreamURL accepts absolute http or https URLs with a host and
// no query or fragment.
func validateUpstreamURL(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}
	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return validation.NewError("validation_unexpected_query", "URL must not contain a query or fragment")
	}
	return nil
}

func validateRoutePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if p == "" || p[0] != '/' {
		return validation.NewError("validation_invalid_path", "must start with '/'")
	}
	if p == "/" {
		return validation.NewError("validation_root_path", "must not be the root path")
	}
	return nil
}

func positiveDuration(value interface{}) error {
	d, ok := value.(Duration)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration")
	}
	if d.Duration <= 0 {
		return validation.NewError("validation_invalid_duration", "must be a positive duration (e.g., 10s, 15m)")
	}
	return nil
}

func pathOverlaps(p, reserved string) bool {
	return p == reserved || strings.HasPrefix(p, reserved+"/") || strings.HasPrefix(reserved, p+"/")
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

// FilePath returns the config file that was loaded, or empty string when
// running from defaults and flags only.
func (c *Config) FilePath() string {
	return c.filePath
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
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

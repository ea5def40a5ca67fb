// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/auth-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Domain          string `kong:"help='Platform domain used to derive backend hosts (overrides config).',env='DOMAIN'"`
	CFAPI           string `kong:"name='cf-api',help='Cloud Controller host (overrides config).',env='CF_API'"`
	AuthGatewayHost string `kong:"help='Auth gateway host (overrides config).',env='AUTH_GATEWAY_HOST'"`
	UAAAPI          string `kong:"name='uaa-api',help='UAA host (overrides config).',env='UAA_API'"`
	TokenKeyURL     string `kong:"help='URL of the token verification key (overrides config).',env='TOKEN_KEY_URL'"`
	NatsURL         string `kong:"help='NATS URL for route registration (overrides config).',env='NATS_URL'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Backends      BackendsConfig      `toml:"backends"`
	Upstream      UpstreamConfig      `toml:"upstream"`
	Orchestration OrchestrationConfig `toml:"orchestration"`
	Auth          AuthConfig          `toml:"auth"`
	Routing       RoutingConfig       `toml:"routing"`
	Log           LogConfig           `toml:"log"`
	Metrics       MetricsConfig       `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendsConfig locates the three backends the proxy talks to.
// Hosts left empty are derived from Domain.
type BackendsConfig struct {
	Domain          string        `toml:"domain"`
	Scheme          string        `toml:"scheme"`
	CloudController BackendConfig `toml:"cloud_controller"`
	AuthGateway     BackendConfig `toml:"auth_gateway"`
	UAA             BackendConfig `toml:"uaa"`
}

// BackendConfig is a single resolved backend endpoint.
type BackendConfig struct {
	Host   string `toml:"host"`
	Scheme string `toml:"scheme"`
}

// UpstreamConfig holds outbound connection settings shared by all backends.
type UpstreamConfig struct {
	TimeoutSeconds   int   `toml:"timeout_seconds"`
	IdleConnections  int   `toml:"idle_connections"`
	MaxResponseBytes int64 `toml:"max_response_bytes"`
}

// OrchestrationConfig tunes the dual-backend operations.
type OrchestrationConfig struct {
	// StrictOrgDelete reports a Cloud Controller 404 on organization delete
	// instead of tolerating it and unlinking the mirror anyway.
	StrictOrgDelete bool `toml:"strict_org_delete"`
}

// AuthConfig controls inbound bearer token verification.
type AuthConfig struct {
	Enabled     bool   `toml:"enabled"`
	TokenKeyURL string `toml:"token_key_url"`
}

// RoutingConfig controls route announcements to the platform router over NATS.
type RoutingConfig struct {
	Enabled  bool     `toml:"enabled"`
	NatsURL  string   `toml:"nats_url"`
	Subject  string   `toml:"subject"`
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	URIs     []string `toml:"uris"`
	Schedule string   `toml:"schedule"`
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

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/auth-proxy/config.toml then configs/config.toml.
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
	if err := toml.Unmarshal(data, &cfg); err != nil {
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

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Domain != "" {
		c.Backends.Domain = cli.Domain
	}
	if cli.CFAPI != "" {
		c.Backends.CloudController.Host = cli.CFAPI
	}
	if cli.AuthGatewayHost != "" {
		c.Backends.AuthGateway.Host = cli.AuthGatewayHost
	}
	if cli.UAAAPI != "" {
		c.Backends.UAA.Host = cli.UAAAPI
	}
	if cli.TokenKeyURL != "" {
		c.Auth.TokenKeyURL = cli.TokenKeyURL
	}
	if cli.NatsURL != "" {
		c.Routing.NatsURL = cli.NatsURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Backend hosts: each must be set explicitly or derivable from the domain.
	if c.Backends.Domain == "" {
		for name, b := range map[string]BackendConfig{
			"cloud_controller": c.Backends.CloudController,
			"auth_gateway":     c.Backends.AuthGateway,
			"uaa":              c.Backends.UAA,
		} {
			if b.Host == "" {
				return fmt.Errorf("backends.%s.host is required when backends.domain is empty", name)
			}
		}
	}
	for name, scheme := range map[string]string{
		"backends.scheme":                  c.Backends.Scheme,
		"backends.cloud_controller.scheme": c.Backends.CloudController.Scheme,
		"backends.auth_gateway.scheme":     c.Backends.AuthGateway.Scheme,
		"backends.uaa.scheme":              c.Backends.UAA.Scheme,
	} {
		switch scheme {
		case "", "http", "https":
		default:
			return fmt.Errorf("%s must be http or https; got %q", name, scheme)
		}
	}

	if c.Auth.TokenKeyURL != "" {
		u, err := url.Parse(c.Auth.TokenKeyURL)
		if err != nil {
			return fmt.Errorf("auth.token_key_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("auth.token_key_url must be an http(s) URL; got %q", c.Auth.TokenKeyURL)
		}
	}

	if c.Routing.Enabled {
		if c.Routing.NatsURL == "" {
			return fmt.Errorf("routing.nats_url is required when routing is enabled")
		}
		if c.Routing.Host == "" {
			return fmt.Errorf("routing.host is required when routing is enabled")
		}
		if c.Routing.Port <= 0 || c.Routing.Port > 65535 {
			return fmt.Errorf("routing.port must be 1–65535 when routing is enabled; got %d", c.Routing.Port)
		}
		if len(c.Routing.URIs) == 0 && c.Backends.Domain == "" {
			return fmt.Errorf("routing.uris is required when backends.domain is empty")
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
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
		for _, reserved := range []string{"/v2", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}

	b := &c.Backends
	if b.Scheme == "" {
		b.Scheme = "https"
	}
	b.CloudController.fill("cf-api", b.Domain, b.Scheme)
	b.AuthGateway.fill("auth-gateway", b.Domain, b.Scheme)
	b.UAA.fill("uaa", b.Domain, b.Scheme)

	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = 10 * 1024 * 1024 // 10 MB
	}

	if c.Auth.TokenKeyURL == "" {
		c.Auth.TokenKeyURL = fmt.Sprintf("%s://%s/token_key", b.UAA.Scheme, b.UAA.Host)
	}

	if c.Routing.Subject == "" {
		c.Routing.Subject = "router.register"
	}
	if c.Routing.Schedule == "" {
		c.Routing.Schedule = "@every 1m"
	}
	if len(c.Routing.URIs) == 0 && b.Domain != "" {
		c.Routing.URIs = []string{"auth-proxy." + b.Domain}
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

// fill derives an unset host from the platform domain and an unset scheme
// from the shared backends scheme.
func (b *BackendConfig) fill(prefix, domain, scheme string) {
	if b.Host == "" && domain != "" {
		b.Host = prefix + "." + domain
	}
	if b.Scheme == "" {
		b.Scheme = scheme
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

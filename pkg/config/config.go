// Package config provides configuration structures and loading logic for the proxy.
//
// Two documents are involved: the process configuration (listen addresses, telemetry,
// logging, where to find the rule set) in YAML, and the rule set itself, which may be
// JSON, YAML or TOML.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-edge/internal/governance"
)

// Defaults applied before the file and environment are read.
const (
	DefaultAdminAddress      = ":19090"
	DefaultDataAddress       = ":8090"
	DefaultReadHeaderTimeout = 30 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultMaxBodyBytes      = 10 << 20
	DefaultRulesFile         = "config/proxies.json"
	DefaultServiceName       = "polis-edge"
)

// Config holds the global configuration for the proxy.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Proxy     ProxySettings   `yaml:"proxy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	AdminAddress      string        `yaml:"admin_address"`
	DataAddress       string        `yaml:"data_address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

// ProxySettings locates the rule set and landing page and bounds upstream calls.
type ProxySettings struct {
	RulesFile        string        `yaml:"rules_file"`
	LandingPage      string        `yaml:"landing_page"`
	AssetsDir        string        `yaml:"assets_dir"`
	WatchLandingPage bool          `yaml:"watch_landing_page"`
	UpstreamTimeout  time.Duration `yaml:"upstream_timeout"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AdminAddress:      DefaultAdminAddress,
			DataAddress:       DefaultDataAddress,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
			MaxBodyBytes:      DefaultMaxBodyBytes,
		},
		Proxy: ProxySettings{
			RulesFile:       DefaultRulesFile,
			UpstreamTimeout: governance.DefaultUpstreamTimeout,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("PROXY_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("PROXY_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}
	if val := os.Getenv("PROXY_MAX_BODY_BYTES"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("PROXY_MAX_BODY_BYTES: %w", err)
		}
		cfg.Server.MaxBodyBytes = n
	}

	if val := os.Getenv("PROXY_RULES_FILE"); val != "" {
		cfg.Proxy.RulesFile = val
	}
	if val := os.Getenv("PROXY_LANDING_PAGE"); val != "" {
		cfg.Proxy.LandingPage = val
	}
	if val := os.Getenv("PROXY_ASSETS_DIR"); val != "" {
		cfg.Proxy.AssetsDir = val
	}
	if val := os.Getenv("PROXY_WATCH_LANDING_PAGE"); val == "true" {
		cfg.Proxy.WatchLandingPage = true
	}
	if val := os.Getenv("PROXY_UPSTREAM_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("PROXY_UPSTREAM_TIMEOUT: %w", err)
		}
		cfg.Proxy.UpstreamTimeout = d
	}

	if val := os.Getenv("PROXY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("PROXY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("PROXY_SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}
	if val := os.Getenv("PROXY_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}

	if val := os.Getenv("PROXY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("PROXY_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}
	return nil
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("proxy configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if c.Server.AdminAddress == c.Server.DataAddress {
		return fmt.Errorf("admin_address and data_address must differ, both are %q", c.Server.DataAddress)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	// Set defaults if not provided
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = DefaultAdminAddress
	}
	if strings.TrimSpace(c.DataAddress) == "" {
		c.DataAddress = DefaultDataAddress
	}

	for name, addr := range map[string]string{"admin_address": c.AdminAddress, "data_address": c.DataAddress} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, addr, err)
		}
	}

	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative, got %d", c.MaxBodyBytes)
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return nil
}

// Validate performs validation of proxy settings
func (c *ProxySettings) Validate() error {
	if strings.TrimSpace(c.RulesFile) == "" {
		return fmt.Errorf("rules_file is required")
	}
	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("upstream_timeout must not be negative, got %v", c.UpstreamTimeout)
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = governance.DefaultUpstreamTimeout
	}
	if c.WatchLandingPage && c.LandingPage == "" {
		return fmt.Errorf("watch_landing_page requires landing_page")
	}
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.OTLPEndpoint != "" && strings.Contains(c.OTLPEndpoint, "://") {
		return fmt.Errorf("otlp_endpoint must be host:port without a scheme, got %q", c.OTLPEndpoint)
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

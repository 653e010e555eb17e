// Package config provides configuration parsing and validation for the
// udsrelay endpoint.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete endpoint configuration: one process, one
// or more independently configured relay endpoints, plus ambient settings.
type Config struct {
	Agent     AgentConfig      `yaml:"agent"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// AgentConfig contains process-wide settings.
type AgentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// RateLimitConfig bounds the rate at which the accept loop admits new
// connections (internal/listener, backed by golang.org/x/time/rate).
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// EndpointConfig configures one relay.Connection template: where to listen,
// which Transmission collaborator to speak on each leg, and how to reach
// the remote peer.
type EndpointConfig struct {
	Name            string `yaml:"name"`
	ListenAddress   string `yaml:"listen_address"`
	InboundKind     string `yaml:"inbound_kind"`  // tcp, ws, quic
	OutboundKind    string `yaml:"outbound_kind"` // tcp, ws, quic
	RemoteAddress   string `yaml:"remote_address"`
	RemotePort      int    `yaml:"remote_port"`
	ResolveAsDomain bool   `yaml:"resolve_as_domain"`
	Turbo           bool   `yaml:"turbo"`
	FastOpen        bool   `yaml:"fast_open"`
	KeepAlived      bool   `yaml:"keep_alived"`
	Alignment       int    `yaml:"alignment"`
}

// Default returns a Config with production-sane defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
		Endpoints: []EndpointConfig{},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, expanding ${VAR} references
// against the process environment before unmarshaling.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors and reports every problem it
// finds: log level and format, the metrics address, rate-limit bounds, and
// each endpoint's required fields, transmission kinds and remote port range.
// Alignment is not range-checked here.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Agent.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Agent.LogLevel))
	}
	if !isValidLogFormat(c.Agent.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Agent.LogFormat))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when metrics.enabled is true")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, "rate_limit.requests_per_second must not be negative")
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, "rate_limit.burst must be positive")
	}

	for i, e := range c.Endpoints {
		if err := validateEndpoint(e); err != nil {
			errs = append(errs, fmt.Sprintf("endpoints[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidTransmissionKind(kind string) bool {
	switch kind {
	case "tcp", "ws", "quic":
		return true
	default:
		return false
	}
}

func validateEndpoint(e EndpointConfig) error {
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if e.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	if !isValidTransmissionKind(e.InboundKind) {
		return fmt.Errorf("invalid inbound_kind: %s (must be tcp, ws, or quic)", e.InboundKind)
	}
	if !isValidTransmissionKind(e.OutboundKind) {
		return fmt.Errorf("invalid outbound_kind: %s (must be tcp, ws, or quic)", e.OutboundKind)
	}
	if e.RemoteAddress == "" {
		return fmt.Errorf("remote_address is required")
	}
	if e.RemotePort <= 0 || e.RemotePort > 65535 {
		return fmt.Errorf("remote_port %d out of range", e.RemotePort)
	}
	return nil
}

// String returns the config marshaled as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

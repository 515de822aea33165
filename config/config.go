// Package config provides configuration management for the bridge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Environment string `yaml:"environment" json:"environment"`

	// ListenPort is the port the AcceptorServer binds for inbound E-side
	// clients.
	ListenPort int `yaml:"listen_port" json:"listen_port"`

	// ExternalPeerEndpoint and InternalPeerEndpoint are the websocket URIs
	// of the two peers the bridge terminates.
	ExternalPeerEndpoint string `yaml:"external_peer_endpoint" json:"external_peer_endpoint"`
	InternalPeerEndpoint string `yaml:"internal_peer_endpoint" json:"internal_peer_endpoint"`

	// PreferredVersion is offered during version negotiation and used as
	// the fallback when the peer does not select one.
	PreferredVersion  string   `yaml:"preferred_version" json:"preferred_version"`
	SupportedVersions []string `yaml:"supported_versions" json:"supported_versions"`

	IdleTimeoutSeconds      int `yaml:"idle_timeout_seconds" json:"idle_timeout_seconds"`
	RequestTimeoutSeconds   int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds" json:"handshake_timeout_seconds"`
	QueueMaxAgeSeconds      int `yaml:"queue_max_age_seconds" json:"queue_max_age_seconds"`

	BackoffBaseMs    int `yaml:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffCeilingMs int `yaml:"backoff_ceiling_ms" json:"backoff_ceiling_ms"`

	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds" json:"health_check_interval_seconds"`
	ContextSyncIntervalSeconds int `yaml:"context_sync_interval_seconds" json:"context_sync_interval_seconds"`

	// QueueDir is where each peer's durable queue file lives.
	QueueDir string `yaml:"queue_dir" json:"queue_dir"`

	// RateLimits maps a category name (default, heavy, lightweight, global)
	// to its token bucket parameters.
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits" json:"rate_limits"`

	// ToolNameMap is the closed tool-name-to-capability mapping. Requests
	// whose name is absent from the map are rejected as unsupported.
	ToolNameMap map[string]string `yaml:"tool_name_map" json:"tool_name_map"`

	// ToolCategories assigns each tool name a rate-limit category
	// (default, heavy, lightweight). Unmapped names use "default".
	ToolCategories map[string]string `yaml:"tool_categories" json:"tool_categories"`

	Logging *LoggingConfig `yaml:"logging" json:"logging"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
	Health  *HealthConfig  `yaml:"health" json:"health"`
}

// RateLimitConfig describes one token bucket
type RateLimitConfig struct {
	Capacity        int `yaml:"capacity" json:"capacity"`
	RefillPerMinute int `yaml:"refill_per_minute" json:"refill_per_minute"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// Duration accessors; the file format keeps plain integers so operators
// never have to remember Go duration syntax.

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

func (c *Config) QueueMaxAge() time.Duration {
	return time.Duration(c.QueueMaxAgeSeconds) * time.Second
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c *Config) BackoffCeiling() time.Duration {
	return time.Duration(c.BackoffCeilingMs) * time.Millisecond
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

func (c *Config) ContextSyncInterval() time.Duration {
	return time.Duration(c.ContextSyncIntervalSeconds) * time.Second
}

// LoadFromFile loads configuration from a file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try to parse as YAML first
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	// Set defaults
	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file
func SaveToFile(cfg *Config, path string) error {
	// Determine format by extension
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 8790
	}
	if cfg.PreferredVersion == "" {
		cfg.PreferredVersion = "1.0"
	}
	if len(cfg.SupportedVersions) == 0 {
		cfg.SupportedVersions = []string{"1.0", "0.9"}
	}
	if cfg.IdleTimeoutSeconds == 0 {
		cfg.IdleTimeoutSeconds = 5
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = 30
	}
	if cfg.HandshakeTimeoutSeconds == 0 {
		cfg.HandshakeTimeoutSeconds = 5
	}
	if cfg.QueueMaxAgeSeconds == 0 {
		cfg.QueueMaxAgeSeconds = 3600
	}
	if cfg.BackoffBaseMs == 0 {
		cfg.BackoffBaseMs = 1000
	}
	if cfg.BackoffCeilingMs == 0 {
		cfg.BackoffCeilingMs = 30000
	}
	if cfg.HealthCheckIntervalSeconds == 0 {
		cfg.HealthCheckIntervalSeconds = 30
	}
	if cfg.ContextSyncIntervalSeconds == 0 {
		cfg.ContextSyncIntervalSeconds = 60
	}
	if cfg.QueueDir == "" {
		cfg.QueueDir = "data/queues"
	}

	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]RateLimitConfig{}
	}
	if _, ok := cfg.RateLimits["default"]; !ok {
		cfg.RateLimits["default"] = RateLimitConfig{Capacity: 60, RefillPerMinute: 60}
	}
	if _, ok := cfg.RateLimits["heavy"]; !ok {
		cfg.RateLimits["heavy"] = RateLimitConfig{Capacity: 10, RefillPerMinute: 10}
	}
	if _, ok := cfg.RateLimits["lightweight"]; !ok {
		cfg.RateLimits["lightweight"] = RateLimitConfig{Capacity: 120, RefillPerMinute: 120}
	}
	if _, ok := cfg.RateLimits["global"]; !ok {
		cfg.RateLimits["global"] = RateLimitConfig{Capacity: 200, RefillPerMinute: 200}
	}

	if cfg.ToolNameMap == nil {
		cfg.ToolNameMap = map[string]string{}
	}
	if cfg.ToolCategories == nil {
		cfg.ToolCategories = map[string]string{}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Port == 0 {
			cfg.Metrics.Port = 9109
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
	}

	if cfg.Health != nil {
		if cfg.Health.Port == 0 {
			cfg.Health.Port = 8791
		}
		if cfg.Health.Path == "" {
			cfg.Health.Path = "/health"
		}
	}
}

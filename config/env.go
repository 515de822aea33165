package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig substitutes environment variables in every
// string-valued config field that can reasonably carry one.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.ExternalPeerEndpoint = SubstituteEnvVars(cfg.ExternalPeerEndpoint)
	cfg.InternalPeerEndpoint = SubstituteEnvVars(cfg.InternalPeerEndpoint)
	cfg.QueueDir = SubstituteEnvVars(cfg.QueueDir)

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
		cfg.Logging.FilePath = SubstituteEnvVars(cfg.Logging.FilePath)
	}

	if cfg.Health != nil {
		cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}
}

// applyEnvironmentOverrides overrides config with environment variables
// (highest precedence, after file values and ${VAR} substitution).
func applyEnvironmentOverrides(cfg *Config) {
	if port := os.Getenv("BRIDGE_LISTEN_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.ListenPort = n
		}
	}
	if ep := os.Getenv("BRIDGE_EXTERNAL_PEER"); ep != "" {
		cfg.ExternalPeerEndpoint = ep
	}
	if ep := os.Getenv("BRIDGE_INTERNAL_PEER"); ep != "" {
		cfg.InternalPeerEndpoint = ep
	}
	if v := os.Getenv("BRIDGE_PREFERRED_VERSION"); v != "" {
		cfg.PreferredVersion = v
	}
	if dir := os.Getenv("BRIDGE_QUEUE_DIR"); dir != "" {
		cfg.QueueDir = dir
	}

	if logLevel := os.Getenv("BRIDGE_LOG_LEVEL"); logLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("BRIDGE_LOG_FORMAT"); logFormat != "" && cfg.Logging != nil {
		cfg.Logging.Format = logFormat
	}

	if os.Getenv("BRIDGE_METRICS_ENABLED") == "true" && cfg.Metrics != nil {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("BRIDGE_METRICS_ENABLED") == "false" && cfg.Metrics != nil {
		cfg.Metrics.Enabled = false
	}
}

// GetEnvironment returns the current environment from BRIDGE_ENV or defaults to development
func GetEnvironment() string {
	env := os.Getenv("BRIDGE_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}

package config

import (
	"fmt"
	"net/url"
)

// ValidationError describes one configuration problem. Level is "error"
// for problems that must stop startup and "warning" for everything else.
type ValidationError struct {
	Field   string
	Message string
	Level   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfiguration validates the entire configuration
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errors []ValidationError

	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		errors = append(errors, ValidationError{
			Field:   "listen_port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", cfg.ListenPort),
			Level:   "error",
		})
	}

	for field, endpoint := range map[string]string{
		"external_peer_endpoint": cfg.ExternalPeerEndpoint,
		"internal_peer_endpoint": cfg.InternalPeerEndpoint,
	} {
		if endpoint == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "peer endpoint is required",
				Level:   "error",
			})
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("not a valid URI: %q", endpoint),
				Level:   "error",
			})
			continue
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("scheme must be ws or wss, got %q", u.Scheme),
				Level:   "error",
			})
		}
	}

	if cfg.BackoffBaseMs > cfg.BackoffCeilingMs {
		errors = append(errors, ValidationError{
			Field:   "backoff_base_ms",
			Message: "backoff base exceeds ceiling",
			Level:   "error",
		})
	}

	for name, rl := range cfg.RateLimits {
		if rl.Capacity <= 0 {
			errors = append(errors, ValidationError{
				Field:   "rate_limits." + name,
				Message: "capacity must be positive",
				Level:   "error",
			})
		}
		if rl.RefillPerMinute <= 0 {
			errors = append(errors, ValidationError{
				Field:   "rate_limits." + name,
				Message: "refill_per_minute must be positive",
				Level:   "error",
			})
		}
	}

	for tool, category := range cfg.ToolCategories {
		if _, ok := cfg.RateLimits[category]; !ok {
			errors = append(errors, ValidationError{
				Field:   "tool_categories." + tool,
				Message: fmt.Sprintf("references unknown rate-limit category %q; will fall back to default", category),
				Level:   "warning",
			})
		}
	}

	if len(cfg.ToolNameMap) == 0 {
		errors = append(errors, ValidationError{
			Field:   "tool_name_map",
			Message: "empty tool map: every request will be rejected as unsupported",
			Level:   "warning",
		})
	}

	return errors
}

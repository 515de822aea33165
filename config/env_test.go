package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("BRIDGE_TEST_HOST", "peer.internal")

	assert.Equal(t, "ws://peer.internal:9100/ws", SubstituteEnvVars("ws://${BRIDGE_TEST_HOST}:9100/ws"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${BRIDGE_TEST_UNSET:fallback}"))
	assert.Equal(t, "", SubstituteEnvVars("${BRIDGE_TEST_UNSET}"))
	assert.Equal(t, "no-vars-here", SubstituteEnvVars("no-vars-here"))
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("BRIDGE_TEST_EP", "ws://resolved:1/ws")

	cfg := &Config{
		ExternalPeerEndpoint: "${BRIDGE_TEST_EP}",
		InternalPeerEndpoint: "ws://static:2/ws",
		Logging:              &LoggingConfig{Level: "${BRIDGE_TEST_LEVEL:debug}"},
	}
	SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "ws://resolved:1/ws", cfg.ExternalPeerEndpoint)
	assert.Equal(t, "ws://static:2/ws", cfg.InternalPeerEndpoint)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	t.Setenv("BRIDGE_LISTEN_PORT", "9123")
	t.Setenv("BRIDGE_EXTERNAL_PEER", "ws://override-e:1/ws")
	t.Setenv("BRIDGE_INTERNAL_PEER", "ws://override-i:2/ws")
	t.Setenv("BRIDGE_PREFERRED_VERSION", "2.0")
	t.Setenv("BRIDGE_LOG_LEVEL", "warn")

	cfg := &Config{
		ListenPort:           8790,
		ExternalPeerEndpoint: "ws://file-e:1/ws",
		Logging:              &LoggingConfig{Level: "info"},
	}
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, 9123, cfg.ListenPort)
	assert.Equal(t, "ws://override-e:1/ws", cfg.ExternalPeerEndpoint)
	assert.Equal(t, "ws://override-i:2/ws", cfg.InternalPeerEndpoint)
	assert.Equal(t, "2.0", cfg.PreferredVersion)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestApplyEnvironmentOverridesIgnoresGarbagePort(t *testing.T) {
	t.Setenv("BRIDGE_LISTEN_PORT", "not-a-port")

	cfg := &Config{ListenPort: 8790}
	applyEnvironmentOverrides(cfg)
	assert.Equal(t, 8790, cfg.ListenPort)
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("BRIDGE_ENV", "Production")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())

	t.Setenv("BRIDGE_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", GetEnvironment())
	assert.True(t, IsDevelopment())
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "8090", cfg.API.Port)
	assert.Equal(t, 100, cfg.API.RateLimitPerMinute)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "localhost:9092", cfg.Kafka.Brokers)
	assert.Equal(t, "lifecycle_events", cfg.Kafka.Topic)
	assert.Equal(t, time.Minute, cfg.Lifecycle.HealthCheckInterval)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.HookTimeout)
	assert.Equal(t, 9000, cfg.Bundle.BasePort)
	assert.Equal(t, 3, cfg.Bundle.MaxRestarts)
	assert.Equal(t, "conductor", cfg.Metrics.Namespace)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONDUCTOR_API_PORT", "18090")
	t.Setenv("CONDUCTOR_LOG_LEVEL", "debug")
	t.Setenv("CONDUCTOR_BUNDLE_MAX_RESTARTS", "7")

	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "18090", cfg.API.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Bundle.MaxRestarts)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := LoadWithOptions(LoadOptions{ConfigFile: "/nonexistent/conductor.yaml"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			API:       APIConfig{Port: "8090"},
			Lifecycle: LifecycleConfig{HookTimeout: time.Second},
			Bundle:    BundleConfig{BasePort: 9000, MaxRestarts: 3},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.API.Port = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Lifecycle.HookTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Bundle.BasePort = 70000
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Bundle.MaxRestarts = -1
	assert.Error(t, cfg.Validate())
}

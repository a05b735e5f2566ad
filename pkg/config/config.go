// Package config loads application configuration from defaults, an optional
// config file, a .env file and CONDUCTOR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Log       LogConfig
	API       APIConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Lifecycle LifecycleConfig
	Bundle    BundleConfig
	Metrics   MetricsConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string
	Environment string
}

// APIConfig holds admin API configuration
type APIConfig struct {
	Port               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// LifecycleConfig holds service registry configuration
type LifecycleConfig struct {
	HealthCheckInterval time.Duration
	HookTimeout         time.Duration
}

// BundleConfig holds bundle orchestrator defaults
type BundleConfig struct {
	BasePort            int
	HealthCheckInterval time.Duration
	MaxRestarts         int
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Namespace string
}

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ConfigFile is an optional path to a YAML/TOML config file.
	ConfigFile string
	// EnvFile is an optional path to a .env file. Missing files are ignored.
	EnvFile string
}

// DefaultLoadOptions returns the default load options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{EnvFile: ".env"}
}

// Load loads configuration with default options.
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration from defaults, the optional config
// file, the optional .env file and environment variables, in increasing
// precedence.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		// Best effort; a missing .env file is not an error
		_ = godotenv.Load(opts.EnvFile)
	}

	v := viper.New()
	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Environment: v.GetString("log.environment"),
		},
		API: APIConfig{
			Port:               v.GetString("api.port"),
			CORSAllowedOrigins: v.GetStringSlice("api.cors_allowed_origins"),
			RateLimitPerMinute: v.GetInt("api.rate_limit_per_minute"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetString("kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
		},
		Lifecycle: LifecycleConfig{
			HealthCheckInterval: v.GetDuration("lifecycle.health_check_interval"),
			HookTimeout:         v.GetDuration("lifecycle.hook_timeout"),
		},
		Bundle: BundleConfig{
			BasePort:            v.GetInt("bundle.base_port"),
			HealthCheckInterval: v.GetDuration("bundle.health_check_interval"),
			MaxRestarts:         v.GetInt("bundle.max_restarts"),
		},
		Metrics: MetricsConfig{
			Namespace: v.GetString("metrics.namespace"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("api.port", "8090")
	v.SetDefault("api.cors_allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit_per_minute", 100)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "lifecycle_events")
	v.SetDefault("lifecycle.health_check_interval", time.Minute)
	v.SetDefault("lifecycle.hook_timeout", 30*time.Second)
	v.SetDefault("bundle.base_port", 9000)
	v.SetDefault("bundle.health_check_interval", 30*time.Second)
	v.SetDefault("bundle.max_restarts", 3)
	v.SetDefault("metrics.namespace", "conductor")
}

// Validate checks the loaded configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.API.Port == "" {
		return fmt.Errorf("api.port must not be empty")
	}
	if c.Lifecycle.HookTimeout <= 0 {
		return fmt.Errorf("lifecycle.hook_timeout must be positive")
	}
	if c.Bundle.BasePort <= 0 || c.Bundle.BasePort > 65535 {
		return fmt.Errorf("bundle.base_port must be a valid port, got %d", c.Bundle.BasePort)
	}
	if c.Bundle.MaxRestarts < 0 {
		return fmt.Errorf("bundle.max_restarts must not be negative")
	}
	return nil
}

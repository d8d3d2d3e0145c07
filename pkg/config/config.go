// Package config provides configuration loading and validation for omni-oracle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode names accepted in configuration.
const (
	ModeProducer = "producer"
	ModeConsumer = "consumer"
)

// Load loads configuration from a YAML file, expanding environment variables.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeProducer
	}

	if cfg.Oracle.MinValidSources == 0 {
		cfg.Oracle.MinValidSources = 2
	}
	if cfg.Oracle.FallbackMaxAge.ToDuration() == 0 {
		cfg.Oracle.FallbackMaxAge = Duration(24 * time.Hour)
	}
	if cfg.Oracle.UpdateInterval.ToDuration() == 0 {
		cfg.Oracle.UpdateInterval = Duration(30 * time.Second)
	}
	if cfg.Oracle.Breaker.Enabled {
		if cfg.Oracle.Breaker.ThresholdBps == 0 {
			cfg.Oracle.Breaker.ThresholdBps = 1000 // 10%
		}
		if cfg.Oracle.Breaker.GracePeriod.ToDuration() == 0 {
			cfg.Oracle.Breaker.GracePeriod = Duration(10 * time.Minute)
		}
	}

	if cfg.Twap.Enabled && cfg.Twap.Period.ToDuration() == 0 {
		cfg.Twap.Period = Duration(30 * time.Minute)
	}

	if cfg.Peers.Freshness.ToDuration() == 0 {
		cfg.Peers.Freshness = Duration(time.Hour)
	}
	if cfg.Peers.RequestExpiry.ToDuration() == 0 {
		cfg.Peers.RequestExpiry = Duration(15 * time.Minute)
	}
	if cfg.Peers.AgreementBps == 0 {
		cfg.Peers.AgreementBps = 500 // 5%
	}

	for i := range cfg.Feeds {
		if cfg.Feeds[i].Weight == 0 {
			cfg.Feeds[i].Weight = 1
		}
		if cfg.Feeds[i].MaxStaleness.ToDuration() == 0 {
			cfg.Feeds[i].MaxStaleness = Duration(time.Hour)
		}
	}

	for i := range cfg.Pools {
		if cfg.Pools[i].AssetDecimals == 0 {
			cfg.Pools[i].AssetDecimals = 18
		}
		if cfg.Pools[i].NativeDecimals == 0 {
			cfg.Pools[i].NativeDecimals = 18
		}
	}

	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

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

// GetString retrieves a string value from a feed's opaque configuration.
func (fc *FeedConfig) GetString(key, defaultValue string) string {
	if val, ok := fc.Config[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

// GetInt retrieves an integer from a feed's opaque configuration.
func (fc *FeedConfig) GetInt(key string, defaultValue int) int {
	if val, ok := fc.Config[key]; ok {
		if i, ok := val.(int); ok {
			return i
		}
	}
	return defaultValue
}

// NormalizeMode converts mode string to lowercase.
func (c *Config) NormalizeMode() string {
	return strings.ToLower(c.Mode)
}

// IsProducerMode returns true if the instance aggregates locally.
func (c *Config) IsProducerMode() bool {
	return c.NormalizeMode() == ModeProducer
}

// IsConsumerMode returns true if the instance only ingests peer prices.
func (c *Config) IsConsumerMode() bool {
	return c.NormalizeMode() == ModeConsumer
}

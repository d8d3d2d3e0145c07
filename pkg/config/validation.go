package config

import (
	"fmt"
	"strings"
)

var validKinds = map[string]bool{
	"pullquote":     true,
	"pushaggregate": true,
	"proxyread":     true,
	"confidence":    true,
}

// Validate checks configuration for errors. InvalidConfiguration conditions
// are rejected here, before any component is constructed.
func Validate(cfg *Config) error {
	mode := cfg.NormalizeMode()
	if mode != ModeProducer && mode != ModeConsumer {
		return fmt.Errorf("%w: %s (must be 'producer' or 'consumer')", ErrInvalidMode, cfg.Mode)
	}

	if cfg.Oracle.MinValidSources < 1 || cfg.Oracle.MinValidSources > 4 {
		return fmt.Errorf("%w: got %d", ErrInvalidMinSources, cfg.Oracle.MinValidSources)
	}

	if cfg.IsProducerMode() {
		enabled := 0
		for i, feedCfg := range cfg.Feeds {
			if !feedCfg.Enabled {
				continue
			}
			enabled++
			if err := validateFeedConfig(&cfg.Feeds[i]); err != nil {
				return fmt.Errorf("feed %d (%s.%s): %w", i, feedCfg.Kind, feedCfg.Name, err)
			}
		}
		if enabled == 0 {
			return ErrNoFeedsConfigured
		}

		if cfg.Chain.RPCURL == "" {
			return fmt.Errorf("chain config: %w", ErrMissingRPCURL)
		}
	}

	if len(cfg.Pools) > 2 {
		return fmt.Errorf("%w: got %d", ErrTooManyPools, len(cfg.Pools))
	}
	for i, pool := range cfg.Pools {
		if pool.Address == "" {
			return fmt.Errorf("pool %d (%s): %w", i, pool.Name, ErrMissingAddress)
		}
		if pool.NativeToken == "" {
			return fmt.Errorf("pool %d (%s): native_token: %w", i, pool.Name, ErrMissingAddress)
		}
	}

	seen := make(map[uint64]bool, len(cfg.Peers.Endpoints))
	for i, peer := range cfg.Peers.Endpoints {
		if peer.Address == "" {
			return fmt.Errorf("peer %d (chain %d): %w", i, peer.ChainID, ErrMissingAddress)
		}
		if seen[peer.ChainID] {
			return fmt.Errorf("%w: %d", ErrDuplicatePeer, peer.ChainID)
		}
		seen[peer.ChainID] = true
	}

	return validateLoggingConfig(&cfg.Logging)
}

func validateFeedConfig(cfg *FeedConfig) error {
	kind := strings.ToLower(cfg.Kind)
	if !validKinds[kind] {
		return fmt.Errorf("%w: %s", ErrInvalidKind, cfg.Kind)
	}
	if cfg.Weight < 0 || cfg.Weight > 255 {
		return fmt.Errorf("%w: got %d", ErrInvalidWeight, cfg.Weight)
	}
	if cfg.Address == "" {
		return ErrMissingAddress
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	level := strings.ToLower(cfg.Level)
	switch level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	format := strings.ToLower(cfg.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	return nil
}

package config

import "time"

// Config is the root configuration structure
type Config struct {
	Mode    string        `yaml:"mode"` // "producer" or "consumer"
	Chain   ChainConfig   `yaml:"chain"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Feeds   []FeedConfig  `yaml:"feeds"`
	Pools   []PoolConfig  `yaml:"pools"`
	Twap    TwapConfig    `yaml:"twap"`
	Peers   PeersConfig   `yaml:"peers"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ChainConfig identifies the local network partition and its RPC endpoint.
type ChainConfig struct {
	ChainID uint64 `yaml:"chain_id"`
	RPCURL  string `yaml:"rpc_url"`
}

// OracleConfig configures the aggregation policy and circuit breaker.
type OracleConfig struct {
	MinValidSources int           `yaml:"min_valid_sources"` // 1..4
	FallbackMaxAge  Duration      `yaml:"fallback_max_age"`  // default 24h
	UpdateInterval  Duration      `yaml:"update_interval"`   // producer pipeline cadence
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the optional deviation circuit breaker.
type BreakerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ThresholdBps uint64   `yaml:"threshold_bps"`
	GracePeriod  Duration `yaml:"grace_period"`
}

// FeedConfig configures one external price input.
type FeedConfig struct {
	Kind         string                 `yaml:"kind"` // pullquote, pushaggregate, proxyread, confidence
	Name         string                 `yaml:"name"`
	Enabled      bool                   `yaml:"enabled"`
	Weight       int                    `yaml:"weight"` // 0..255
	MaxStaleness Duration               `yaml:"max_staleness"`
	Address      string                 `yaml:"address"` // collaborator contract address
	Extra        string                 `yaml:"extra"`   // kind-specific identifier or symbol
	Config       map[string]interface{} `yaml:"config"`
}

// PoolConfig configures one liquidity pool read by the ratio estimator.
type PoolConfig struct {
	Name           string `yaml:"name"`
	Address        string `yaml:"address"`
	NativeToken    string `yaml:"native_token"` // address of the native-asset token in the pool
	AssetDecimals  int    `yaml:"asset_decimals"`
	NativeDecimals int    `yaml:"native_decimals"`
}

// TwapConfig configures the time-weighted average window.
type TwapConfig struct {
	Enabled bool     `yaml:"enabled"`
	Period  Duration `yaml:"period"` // minimum elapsed time per window
}

// PeersConfig configures the cross-chain synchronization manager.
type PeersConfig struct {
	ReadChannel   uint32         `yaml:"read_channel"` // 0 = remote reads disabled
	Freshness     Duration       `yaml:"freshness"`    // peer price validity window, default 1h
	RequestExpiry Duration       `yaml:"request_expiry"`
	AgreementBps  uint64         `yaml:"agreement_bps"` // consumer adoption bound vs peer median
	Endpoints     []PeerEndpoint `yaml:"endpoints"`
}

// PeerEndpoint configures one remote oracle instance.
type PeerEndpoint struct {
	ChainID uint64 `yaml:"chain_id"`
	Address string `yaml:"address"`
}

// ServerConfig configures the query surface.
type ServerConfig struct {
	HTTP      HTTPConfig `yaml:"http"`
	WebSocket WSConfig   `yaml:"websocket"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// WSConfig configures the WebSocket server
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

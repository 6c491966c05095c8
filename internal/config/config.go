package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MULTISEND_RPCPORT or MULTISEND_LEDGER_BACKEND
const EnvPrefix = "MULTISEND"

// Load reads the configuration file at path, applies environment overrides
// and defaults, and validates the result. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a validated configuration made of defaults only
func Default() *Config {
	cfg := &Config{
		Receipts: ReceiptsConfig{Enabled: DefaultReceiptsEnabled},
	}
	applyDefaults(cfg)
	return cfg
}

// setDefaults registers every scalar key so environment overrides apply
// even when the file does not mention it
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", DefaultHost)
	v.SetDefault("rpcPort", DefaultRPCPort)
	v.SetDefault("wsPort", DefaultWSPort)
	v.SetDefault("logLevel", DefaultLogLevel)
	v.SetDefault("maxBodySize", DefaultMaxBodySize)
	v.SetDefault("requestTimeout", DefaultRequestTimeout)
	v.SetDefault("dedupCacheSize", DefaultDedupCacheSize)
	v.SetDefault("maxSubscriptionsPerClient", DefaultMaxSubscriptionsPerClient)
	v.SetDefault("distributor", DefaultDistributor)
	v.SetDefault("ledger.backend", DefaultBackend)
	v.SetDefault("ledger.path", "")
	v.SetDefault("receipts.enabled", DefaultReceiptsEnabled)
	v.SetDefault("receipts.ttl", DefaultReceiptsTTL)
	v.SetDefault("receipts.size", DefaultReceiptsSize)
	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.rps", 0)
	v.SetDefault("rateLimit.burst", DefaultRateLimitBurst)
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.RPCPort == 0 {
		cfg.RPCPort = DefaultRPCPort
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.DedupCacheSize == 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	if cfg.MaxSubscriptionsPerClient == 0 {
		cfg.MaxSubscriptionsPerClient = DefaultMaxSubscriptionsPerClient
	}
	if cfg.Distributor == "" {
		cfg.Distributor = DefaultDistributor
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultBackend
	}
	if cfg.Receipts.TTL == 0 {
		cfg.Receipts.TTL = DefaultReceiptsTTL
	}
	if cfg.Receipts.Size == 0 {
		cfg.Receipts.Size = DefaultReceiptsSize
	}
	if cfg.RateLimit != nil && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultRateLimitBurst
	}

	if len(cfg.Tokens) == 0 {
		cfg.Tokens = []TokenConfig{DefaultToken}
	}
	for i := range cfg.Tokens {
		if cfg.Tokens[i].Holder == "" {
			cfg.Tokens[i].Holder = DefaultHolder
		}
		if cfg.Tokens[i].Supply == "" {
			cfg.Tokens[i].Supply = "0"
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.RPCPort < 1 || cfg.RPCPort > 65535 {
		return fmt.Errorf("rpcPort must be between 1 and 65535")
	}

	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		return fmt.Errorf("wsPort must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.MaxBodySize < 0 {
		return fmt.Errorf("maxBodySize must be non-negative")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}

	if cfg.DedupCacheSize < 0 {
		return fmt.Errorf("dedupCacheSize must be non-negative")
	}

	if cfg.MaxSubscriptionsPerClient < 0 {
		return fmt.Errorf("maxSubscriptionsPerClient must be non-negative")
	}

	if err := validateAddress(cfg.Distributor); err != nil {
		return fmt.Errorf("distributor: %w", err)
	}

	switch cfg.Ledger.Backend {
	case BackendMemory:
	case BackendSQLite:
		if cfg.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be one of: memory, sqlite")
	}

	if cfg.Receipts.Enabled {
		if cfg.Receipts.TTL <= 0 {
			return fmt.Errorf("receipts.ttl must be positive when receipts are enabled")
		}
		if cfg.Receipts.Size <= 0 {
			return fmt.Errorf("receipts.size must be positive when receipts are enabled")
		}
	}

	if cfg.IsRateLimitEnabled() {
		if cfg.RateLimit.RPS <= 0 {
			return fmt.Errorf("rateLimit.rps must be positive when rate limiting is enabled")
		}
		if cfg.RateLimit.Burst <= 0 {
			return fmt.Errorf("rateLimit.burst must be positive when rate limiting is enabled")
		}
	}

	tokenAddrs := make(map[common.Address]bool)
	for i, token := range cfg.Tokens {
		if err := validateAddress(token.Address); err != nil {
			return fmt.Errorf("tokens[%d].address: %w", i, err)
		}
		if tokenAddrs[token.AddressValue()] {
			return fmt.Errorf("tokens[%d]: duplicate token address '%s'", i, token.Address)
		}
		tokenAddrs[token.AddressValue()] = true

		if err := validateAddress(token.Holder); err != nil {
			return fmt.Errorf("tokens[%d].holder: %w", i, err)
		}
		if _, err := token.SupplyValue(); err != nil {
			return fmt.Errorf("tokens[%d].supply: %w", i, err)
		}
	}

	return nil
}

var errZeroAddress = errors.New("zero address")

func validateAddress(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("invalid address '%s'", s)
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return errZeroAddress
	}
	return nil
}

package config

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config represents the main configuration structure
type Config struct {
	Host                      string           `json:"host" mapstructure:"host"`
	RPCPort                   int              `json:"rpcPort" mapstructure:"rpcPort"`
	WSPort                    int              `json:"wsPort" mapstructure:"wsPort"`
	LogLevel                  string           `json:"logLevel" mapstructure:"logLevel"`
	MaxBodySize               int64            `json:"maxBodySize" mapstructure:"maxBodySize"`
	RequestTimeout            int              `json:"requestTimeout" mapstructure:"requestTimeout"` // ms
	DedupCacheSize            int              `json:"dedupCacheSize" mapstructure:"dedupCacheSize"`
	MaxSubscriptionsPerClient int              `json:"maxSubscriptionsPerClient" mapstructure:"maxSubscriptionsPerClient"`
	Distributor               string           `json:"distributor" mapstructure:"distributor"`
	Ledger                    LedgerConfig     `json:"ledger" mapstructure:"ledger"`
	Receipts                  ReceiptsConfig   `json:"receipts" mapstructure:"receipts"`
	RateLimit                 *RateLimitConfig `json:"rateLimit,omitempty" mapstructure:"rateLimit"`
	Tokens                    []TokenConfig    `json:"tokens" mapstructure:"tokens"`
}

// LedgerConfig selects the ledger backend
type LedgerConfig struct {
	Backend string `json:"backend" mapstructure:"backend"`
	Path    string `json:"path" mapstructure:"path"` // sqlite database file
}

// ReceiptsConfig represents receipt store configuration
type ReceiptsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	TTL     int  `json:"ttl" mapstructure:"ttl"`   // seconds
	Size    int  `json:"size" mapstructure:"size"` // number of entries
}

// RateLimitConfig represents HTTP request rate limiting
type RateLimitConfig struct {
	Enabled bool    `json:"enabled" mapstructure:"enabled"`
	RPS     float64 `json:"rps" mapstructure:"rps"`
	Burst   int     `json:"burst" mapstructure:"burst"`
}

// TokenConfig describes a token deployed at genesis
type TokenConfig struct {
	Address  string `json:"address" mapstructure:"address"`
	Name     string `json:"name" mapstructure:"name"`
	Symbol   string `json:"symbol" mapstructure:"symbol"`
	Decimals uint8  `json:"decimals" mapstructure:"decimals"`
	Holder   string `json:"holder" mapstructure:"holder"`
	Supply   string `json:"supply" mapstructure:"supply"` // base units, decimal
}

// Default values
const (
	DefaultHost                      = "localhost"
	DefaultRPCPort                   = 8545
	DefaultWSPort                    = 8546
	DefaultLogLevel                  = "info"
	DefaultMaxBodySize               = int64(0) // 0 means no limit
	DefaultRequestTimeout            = 5000     // ms
	DefaultDedupCacheSize            = 10000
	DefaultMaxSubscriptionsPerClient = 100
	DefaultBackend                   = BackendMemory
	DefaultReceiptsEnabled           = true
	DefaultReceiptsTTL               = 3600 // seconds
	DefaultReceiptsSize              = 1024
	DefaultRateLimitBurst            = 100

	// DefaultDistributor is the spender address of the distributor
	DefaultDistributor = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	// DefaultHolder receives the supply of DefaultToken
	DefaultHolder = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// DefaultToken is deployed when no tokens are configured: 1e9 whole tokens with 18 decimals
var DefaultToken = TokenConfig{
	Address:  "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	Name:     "RbdbFungibleToken",
	Symbol:   "RBDB",
	Decimals: 18,
	Holder:   DefaultHolder,
	Supply:   "1000000000000000000000000000",
}

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// DistributorAddress returns the configured distributor address
func (c *Config) DistributorAddress() common.Address {
	return common.HexToAddress(c.Distributor)
}

// IsRateLimitEnabled returns true if rate limiting is configured and enabled
func (c *Config) IsRateLimitEnabled() bool {
	return c.RateLimit != nil && c.RateLimit.Enabled
}

// GetTTLDuration returns receipt TTL as time.Duration
func (c *ReceiptsConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// AddressValue returns the token address
func (t *TokenConfig) AddressValue() common.Address {
	return common.HexToAddress(t.Address)
}

// HolderValue returns the address receiving the supply
func (t *TokenConfig) HolderValue() common.Address {
	return common.HexToAddress(t.Holder)
}

// SupplyValue parses the supply
func (t *TokenConfig) SupplyValue() (*uint256.Int, error) {
	return uint256.FromDecimal(t.Supply)
}

package config

import (
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	redisclient "github.com/vietddude/sweepwatch/internal/infra/redis"
	"github.com/vietddude/sweepwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Monitor   MonitorConfig      `yaml:"monitor"`
	Chains    []ChainConfig      `yaml:"chains"    validate:"min=1,dive"`
	Valuation ValuationConfig    `yaml:"valuation"`
	Notify    NotifyConfig       `yaml:"notify"`
	Signer    SignerConfig       `yaml:"signer"`
	// Wallets is the static wallet list used when no database is configured.
	Wallets []WalletConfig `yaml:"wallets" validate:"dive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MonitorConfig holds the monitor's scheduling and policy settings.
type MonitorConfig struct {
	// Enabled gates starting the monitor at boot.
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	RunImmediately bool          `yaml:"run_immediately"`
	// ThresholdUSD overrides the persisted threshold when set.
	ThresholdUSD string `yaml:"threshold_usd"`
	// Destinations seeds the in-memory config store, keyed by chain family.
	Destinations map[string]string `yaml:"destinations"`
	Concurrency  int               `yaml:"concurrency"   validate:"gte=0"`

	RPCTimeout       time.Duration `yaml:"rpc_timeout"`
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=0"`
	Cooldown         time.Duration `yaml:"cooldown"`

	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ConfirmationGrace time.Duration `yaml:"confirmation_grace"`
	DropAfter         time.Duration `yaml:"drop_after"`

	FailedRetryAfter time.Duration `yaml:"failed_retry_after"`
	RenotifyAfter    time.Duration `yaml:"renotify_after"`
	// LeaseTTL bounds how long one instance may hold the cycle lease.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// ChainConfig holds settings for a chain family.
type ChainConfig struct {
	Family string `yaml:"family" validate:"required"`

	// EVM
	ChainID int64 `yaml:"chain_id"`
	// UTXO: mainnet, testnet, signet, regtest
	Network         string `yaml:"network"`
	FallbackFeeRate int64  `yaml:"fallback_fee_rate"` // sat/vB
	// Tron, in sun
	NativeFeeReserve int64 `yaml:"native_fee_reserve"`
	TokenFeeLimit    int64 `yaml:"token_fee_limit"`

	Confirmations uint64           `yaml:"confirmations"`
	Native        *domain.Asset    `yaml:"native"`
	Tokens        []domain.Asset   `yaml:"tokens"    validate:"dive"`
	Endpoints     []EndpointConfig `yaml:"endpoints" validate:"min=2,dive"`
}

// EndpointConfig is one RPC endpoint. Lower priority is tried first.
type EndpointConfig struct {
	Name     string `yaml:"name"     validate:"required"`
	URL      string `yaml:"url"      validate:"required,url"`
	Priority int    `yaml:"priority"`
}

// ValuationConfig holds price source settings.
type ValuationConfig struct {
	URL    string `yaml:"url"     validate:"omitempty,url"`
	APIKey string `yaml:"api_key"`
	// CoinIDs maps asset keys or symbols to the quote API's coin ids.
	CoinIDs map[string]string `yaml:"coin_ids"`
	// StaticPrices are USD prices used when the quote API has none.
	StaticPrices map[string]string `yaml:"static_prices"`
	CacheTTL     time.Duration     `yaml:"cache_ttl"`
}

// NotifyConfig holds notification sinks.
type NotifyConfig struct {
	Webhooks []string      `yaml:"webhooks" validate:"dive,omitempty,url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SignerConfig selects how sweeps are signed: a remote custody signer when
// URL is set, otherwise local keys per wallet id.
type SignerConfig struct {
	URL   string            `yaml:"url"   validate:"omitempty,url"`
	Token string            `yaml:"token"`
	Keys  map[string]string `yaml:"keys"`
}

// WalletConfig is a statically configured wallet.
type WalletConfig struct {
	ID        string            `yaml:"id"        validate:"required"`
	Addresses map[string]string `yaml:"addresses" validate:"required"`
	IsMain    bool              `yaml:"is_main"`
}

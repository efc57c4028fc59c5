package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	gvalidator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = gvalidator.New(gvalidator.WithRequiredStructEnabled())

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expanding ${ENV} references, fills defaults and validates.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	m := &cfg.Monitor
	if m.Interval == 0 {
		m.Interval = time.Minute
	}
	if m.Concurrency == 0 {
		m.Concurrency = 10
	}
	if m.RPCTimeout == 0 {
		m.RPCTimeout = 10 * time.Second
	}
	if m.FailureThreshold == 0 {
		m.FailureThreshold = 3
	}
	if m.Cooldown == 0 {
		m.Cooldown = 60 * time.Second
	}
	if m.ReconcileInterval == 0 {
		m.ReconcileInterval = time.Minute
	}
	if m.ConfirmationGrace == 0 {
		m.ConfirmationGrace = 2 * time.Minute
	}
	if m.DropAfter == 0 {
		m.DropAfter = time.Hour
	}
	if m.FailedRetryAfter == 0 {
		m.FailedRetryAfter = time.Hour
	}
	if m.RenotifyAfter == 0 {
		m.RenotifyAfter = 30 * time.Minute
	}
	if m.LeaseTTL == 0 {
		m.LeaseTTL = 5 * time.Minute
	}

	if cfg.Valuation.CacheTTL == 0 {
		cfg.Valuation.CacheTTL = time.Minute
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 10 * time.Second
	}

	for i := range cfg.Chains {
		if cfg.Chains[i].Confirmations == 0 {
			cfg.Chains[i].Confirmations = 1
		}
	}
}

// Validate checks struct tags and the cross-field rules tags can't express.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs gvalidator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		errs := []error{ErrInvalidConfig}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("'%s': value '%v' does not meet the requirements for the '%s' validation",
				fe.Namespace(), fe.Value(), fe.Tag()))
		}
		return errors.Join(errs...)
	}

	seen := make(map[domain.ChainFamily]bool)
	for _, ch := range c.Chains {
		family, err := domain.ParseChainFamily(ch.Family)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if seen[family] {
			return fmt.Errorf("%w: chain family %s configured twice", ErrInvalidConfig, family)
		}
		seen[family] = true
		if family == domain.ChainFamilyEVM && ch.ChainID <= 0 {
			return fmt.Errorf("%w: evm chain requires chain_id", ErrInvalidConfig)
		}
	}

	for _, w := range c.Wallets {
		for f := range w.Addresses {
			if _, err := domain.ParseChainFamily(f); err != nil {
				return fmt.Errorf("%w: wallet %s: %w", ErrInvalidConfig, w.ID, err)
			}
		}
	}

	if _, err := c.Monitor.Threshold(); err != nil {
		return err
	}
	if _, err := c.Valuation.Prices(); err != nil {
		return err
	}
	return nil
}

// Threshold returns the configured threshold override, or nil.
func (m MonitorConfig) Threshold() (*decimal.Decimal, error) {
	if m.ThresholdUSD == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(m.ThresholdUSD)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold_usd %q: %w", ErrInvalidConfig, m.ThresholdUSD, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: threshold_usd must not be negative", ErrInvalidConfig)
	}
	return &d, nil
}

// Prices parses the static price table.
func (v ValuationConfig) Prices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(v.StaticPrices))
	for asset, raw := range v.StaticPrices {
		d, err := decimal.NewFromString(raw)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("%w: static price for %s: %q", ErrInvalidConfig, asset, raw)
		}
		out[asset] = d
	}
	return out, nil
}

// DomainWallets converts the static wallet list.
func (c *AppConfig) DomainWallets() []domain.Wallet {
	wallets := make([]domain.Wallet, 0, len(c.Wallets))
	for _, w := range c.Wallets {
		addrs := make(map[domain.ChainFamily]string, len(w.Addresses))
		for f, addr := range w.Addresses {
			family, err := domain.ParseChainFamily(f)
			if err != nil {
				continue
			}
			addrs[family] = addr
		}
		wallets = append(wallets, domain.Wallet{ID: w.ID, AddressesByChainFamily: addrs, IsMain: w.IsMain})
	}
	return wallets
}

package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MonitorConfigID is the fixed id of the singleton configuration row.
const MonitorConfigID = 1

// DefaultThresholdUSD is used when the configuration row is created on first run.
var DefaultThresholdUSD = decimal.NewFromInt(1000)

// MonitorConfig is the persisted monitor configuration.
type MonitorConfig struct {
	ThresholdUSD           decimal.Decimal
	EVMDestinationAddress  string
	BTCDestinationAddress  string
	TronDestinationAddress string
	UpdatedAt              time.Time
	UpdatedBy              string
}

// DefaultMonitorConfig returns the record written when none exists yet.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ThresholdUSD: DefaultThresholdUSD,
		UpdatedAt:    time.Now().UTC(),
		UpdatedBy:    "system",
	}
}

// Destination resolves the sweep destination for a family.
func (c MonitorConfig) Destination(family ChainFamily) (string, bool) {
	var addr string
	switch family {
	case ChainFamilyEVM:
		addr = c.EVMDestinationAddress
	case ChainFamilyUTXO:
		addr = c.BTCDestinationAddress
	case ChainFamilyTron:
		addr = c.TronDestinationAddress
	}
	return addr, addr != ""
}

// CycleError is one failure recorded during a cycle.
type CycleError struct {
	WalletID    string
	ChainFamily ChainFamily
	Asset       string
	Err         error
}

func (e CycleError) Error() string {
	s := e.WalletID
	if e.ChainFamily != "" {
		s += "/" + string(e.ChainFamily)
	}
	if e.Asset != "" {
		s += "/" + e.Asset
	}
	return s + ": " + e.Err.Error()
}

// CycleResult summarizes one monitoring cycle. It is safe for concurrent use.
type CycleResult struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	WalletsScanned  int
	BreachesFound   int
	SweepsSubmitted int
	SweepsSkipped   int

	mu     sync.Mutex
	errors []CycleError
}

// NewCycleResult starts a result clock.
func NewCycleResult(id string) *CycleResult {
	return &CycleResult{ID: id, StartedAt: time.Now()}
}

// AddError appends a failure, preserving arrival order.
func (r *CycleResult) AddError(walletID string, family ChainFamily, asset string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, CycleError{
		WalletID:    walletID,
		ChainFamily: family,
		Asset:       asset,
		Err:         err,
	})
}

// IncSubmitted counts a submitted sweep.
func (r *CycleResult) IncSubmitted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SweepsSubmitted++
}

// IncSkipped counts a breach that was not swept.
func (r *CycleResult) IncSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SweepsSkipped++
}

// Errors returns a copy of the recorded failures.
func (r *CycleResult) Errors() []CycleError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CycleError, len(r.errors))
	copy(out, r.errors)
	return out
}

// Duration returns how long the cycle ran.
func (r *CycleResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

package storage

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

var (
	// ErrAlreadyPending is returned when a tuple already has a pending or submitted sweep
	ErrAlreadyPending = errors.New("sweep already pending")
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a record is not in the state a transition requires
	ErrInvalidTransition = errors.New("invalid sweep status transition")
)

// SweepRepository persists the sweep audit trail.
// InsertPending is the exclusivity gate: at most one pending or submitted
// record may exist per (wallet, chain family, asset).
type SweepRepository interface {
	// InsertPending creates a pending record, assigning ID and timestamps when empty.
	// Returns ErrAlreadyPending if the tuple already has an active record.
	InsertPending(ctx context.Context, rec *domain.SweepRecord) error

	// MarkSubmitted moves a pending record to submitted
	MarkSubmitted(ctx context.Context, id, txHash string, amount *big.Int) error

	// MarkFailed moves a pending or submitted record to failed
	MarkFailed(ctx context.Context, id, reason string) error

	// MarkConfirmed moves a submitted record to confirmed
	MarkConfirmed(ctx context.Context, id string) error

	// Get retrieves a record by id
	Get(ctx context.Context, id string) (*domain.SweepRecord, error)

	// Active returns the pending or submitted record of a tuple, or nil
	Active(ctx context.Context, tuple domain.SweepTuple) (*domain.SweepRecord, error)

	// LatestForTuple returns the most recently created record of a tuple, or nil
	LatestForTuple(ctx context.Context, tuple domain.SweepTuple) (*domain.SweepRecord, error)

	// ListSubmittedBefore returns submitted records last updated before the cutoff, oldest first
	ListSubmittedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.SweepRecord, error)
}

// ConfigStore holds the singleton monitor configuration.
type ConfigStore interface {
	// Get returns the configuration, creating the default record on first read
	Get(ctx context.Context) (domain.MonitorConfig, error)

	// Update replaces the configuration
	Update(ctx context.Context, cfg domain.MonitorConfig) error
}

// WalletSource lists the wallets to monitor. Wallets are owned elsewhere.
type WalletSource interface {
	ListWallets(ctx context.Context) ([]domain.Wallet, error)
}

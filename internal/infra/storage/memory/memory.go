package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
)

type MemoryStorage struct {
	sweeps  map[string]*domain.SweepRecord
	active  map[domain.SweepTuple]string
	config  *domain.MonitorConfig
	wallets []domain.Wallet
	now     func() time.Time
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sweeps: make(map[string]*domain.SweepRecord),
		active: make(map[domain.SweepTuple]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for record timestamps.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func clone(rec *domain.SweepRecord) *domain.SweepRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	if rec.Amount != nil {
		c.Amount = new(big.Int).Set(rec.Amount)
	}
	return &c
}

// -----------------------------------------------------------------------------
// Sweep Repository
// -----------------------------------------------------------------------------

type SweepRepo struct {
	store *MemoryStorage
}

func NewSweepRepo(store *MemoryStorage) *SweepRepo {
	return &SweepRepo{store: store}
}

func (r *SweepRepo) InsertPending(ctx context.Context, rec *domain.SweepRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tuple := rec.Tuple()
	if _, exists := r.store.active[tuple]; exists {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyPending, tuple)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := r.store.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Status = domain.SweepStatusPending

	r.store.sweeps[rec.ID] = clone(rec)
	r.store.active[tuple] = rec.ID
	return nil
}

// transition applies fn to a record whose status is one of from.
func (r *SweepRepo) transition(
	id string,
	to domain.SweepStatus,
	fn func(*domain.SweepRecord),
	from ...domain.SweepStatus,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.sweeps[id]
	if !ok {
		return fmt.Errorf("sweep %s: %w", id, storage.ErrNotFound)
	}
	allowed := false
	for _, s := range from {
		if rec.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, rec.Status, to)
	}

	rec.Status = to
	rec.UpdatedAt = r.store.now()
	if fn != nil {
		fn(rec)
	}
	if !to.Active() {
		delete(r.store.active, rec.Tuple())
	}
	return nil
}

func (r *SweepRepo) MarkSubmitted(ctx context.Context, id, txHash string, amount *big.Int) error {
	return r.transition(id, domain.SweepStatusSubmitted, func(rec *domain.SweepRecord) {
		rec.TxHash = txHash
		if amount != nil {
			rec.Amount = new(big.Int).Set(amount)
		}
	}, domain.SweepStatusPending)
}

func (r *SweepRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(id, domain.SweepStatusFailed, func(rec *domain.SweepRecord) {
		rec.Reason = reason
	}, domain.SweepStatusPending, domain.SweepStatusSubmitted)
}

func (r *SweepRepo) MarkConfirmed(ctx context.Context, id string) error {
	return r.transition(id, domain.SweepStatusConfirmed, nil, domain.SweepStatusSubmitted)
}

func (r *SweepRepo) Get(ctx context.Context, id string) (*domain.SweepRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.sweeps[id]
	if !ok {
		return nil, fmt.Errorf("sweep %s: %w", id, storage.ErrNotFound)
	}
	return clone(rec), nil
}

func (r *SweepRepo) Active(ctx context.Context, tuple domain.SweepTuple) (*domain.SweepRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.active[tuple]
	if !ok {
		return nil, nil
	}
	return clone(r.store.sweeps[id]), nil
}

func (r *SweepRepo) LatestForTuple(ctx context.Context, tuple domain.SweepTuple) (*domain.SweepRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *domain.SweepRecord
	for _, rec := range r.store.sweeps {
		if rec.Tuple() != tuple {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	return clone(latest), nil
}

func (r *SweepRepo) ListSubmittedBefore(
	ctx context.Context,
	before time.Time,
	limit int,
) ([]*domain.SweepRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.SweepRecord
	for _, rec := range r.store.sweeps {
		if rec.Status == domain.SweepStatusSubmitted && rec.UpdatedAt.Before(before) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every record, oldest first.
func (r *SweepRepo) All() []*domain.SweepRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.SweepRecord, 0, len(r.store.sweeps))
	for _, rec := range r.store.sweeps {
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// -----------------------------------------------------------------------------
// Config Store
// -----------------------------------------------------------------------------

type ConfigRepo struct {
	store *MemoryStorage
}

func NewConfigRepo(store *MemoryStorage) *ConfigRepo {
	return &ConfigRepo{store: store}
}

func (r *ConfigRepo) Get(ctx context.Context) (domain.MonitorConfig, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.config == nil {
		cfg := domain.DefaultMonitorConfig()
		r.store.config = &cfg
	}
	return *r.store.config, nil
}

func (r *ConfigRepo) Update(ctx context.Context, cfg domain.MonitorConfig) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = r.store.now()
	}
	r.store.config = &cfg
	return nil
}

// -----------------------------------------------------------------------------
// Wallet Source
// -----------------------------------------------------------------------------

type WalletRepo struct {
	store *MemoryStorage
}

func NewWalletRepo(store *MemoryStorage) *WalletRepo {
	return &WalletRepo{store: store}
}

// Set replaces the wallet list.
func (r *WalletRepo) Set(wallets []domain.Wallet) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.wallets = append([]domain.Wallet(nil), wallets...)
}

func (r *WalletRepo) ListWallets(ctx context.Context) ([]domain.Wallet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return append([]domain.Wallet(nil), r.store.wallets...), nil
}

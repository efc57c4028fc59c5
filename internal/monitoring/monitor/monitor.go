// Package monitor runs one poll, evaluate and sweep cycle across all wallets.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
	"github.com/vietddude/sweepwatch/internal/monitoring/evaluator"
	"github.com/vietddude/sweepwatch/internal/monitoring/metrics"
	"github.com/vietddude/sweepwatch/internal/monitoring/poller"
	"github.com/vietddude/sweepwatch/internal/monitoring/sweeper"
	"github.com/vietddude/sweepwatch/internal/monitoring/valuation"
)

// ErrLocked is returned when another instance is running a cycle.
var ErrLocked = errors.New("cycle lock held by another instance")

// Locker serializes cycles across instances. ok is false when the lock is
// held elsewhere.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, ok bool, err error)
}

// Config wires a Monitor.
type Config struct {
	Wallets storage.WalletSource
	Configs storage.ConfigStore
	Poller  *poller.Poller
	Quoter  valuation.Quoter
	Gate    *evaluator.Gate
	Sweeper *sweeper.Sweeper
	Events  sweeper.Events
	Locker  Locker
	// Concurrency bounds price lookups and parallel sweeps.
	Concurrency int
}

// Monitor owns the cycle logic. RunCycle may be called concurrently but
// the scheduler never does so.
type Monitor struct {
	cfg Config
	log *slog.Logger

	mu                sync.RWMutex
	thresholdOverride *decimal.Decimal
	last              *domain.CycleResult
}

func New(cfg Config) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = poller.DefaultConcurrency
	}
	return &Monitor{
		cfg: cfg,
		log: slog.Default().With("component", "monitor"),
	}
}

// SetThresholdOverride replaces the persisted threshold for subsequent cycles.
// nil restores the persisted value.
func (m *Monitor) SetThresholdOverride(threshold *decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholdOverride = threshold
}

// LastResult returns the most recently completed cycle, or nil.
func (m *Monitor) LastResult() *domain.CycleResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) threshold(cfg domain.MonitorConfig) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.thresholdOverride != nil {
		return *m.thresholdOverride
	}
	return cfg.ThresholdUSD
}

// RunCycle performs one full cycle. A returned error means the cycle was
// aborted; per-wallet failures are only recorded on the result.
func (m *Monitor) RunCycle(ctx context.Context) (*domain.CycleResult, error) {
	result := domain.NewCycleResult(uuid.NewString())
	log := m.log.With("cycle_id", result.ID)

	if m.cfg.Locker != nil {
		unlock, ok, err := m.cfg.Locker.TryLock(ctx)
		if err != nil {
			return result, fmt.Errorf("acquire cycle lock: %w", err)
		}
		if !ok {
			return result, ErrLocked
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release cycle lock", "error", err)
			}
		}()
	}

	// read once per cycle; updates are picked up at the next cycle
	cfg, err := m.cfg.Configs.Get(ctx)
	if err != nil {
		return result, fmt.Errorf("load monitor config: %w", err)
	}
	threshold := m.threshold(cfg)

	wallets, err := m.cfg.Wallets.ListWallets(ctx)
	if err != nil {
		return result, fmt.Errorf("list wallets: %w", err)
	}

	snapshots, err := m.cfg.Poller.PollAll(ctx, wallets, result)
	if err != nil {
		return result, err
	}
	result.WalletsScanned = len(snapshots)

	book := evaluator.Prefetch(ctx, m.cfg.Quoter, snapshots, m.cfg.Concurrency)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	var decisions []domain.BreachDecision
	for _, snap := range snapshots {
		decisions = append(decisions, evaluator.Evaluate(snap, threshold, book, result)...)
	}
	m.reportBreaches(decisions, threshold, result)

	actionable := m.cfg.Gate.Filter(ctx, decisions, result)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := m.sweep(ctx, actionable, cfg, result); err != nil {
		return result, err
	}

	result.FinishedAt = time.Now()
	log.Info("Cycle complete",
		"wallets", result.WalletsScanned,
		"breaches", result.BreachesFound,
		"submitted", result.SweepsSubmitted,
		"skipped", result.SweepsSkipped,
		"errors", len(result.Errors()),
		"prices", book.Len(),
		"duration", result.Duration(),
	)
	return result, nil
}

// reportBreaches counts one breach per wallet and family and notifies per asset.
func (m *Monitor) reportBreaches(decisions []domain.BreachDecision, threshold decimal.Decimal, result *domain.CycleResult) {
	type walletFamily struct {
		wallet string
		family domain.ChainFamily
	}
	seen := make(map[walletFamily]bool)
	for _, d := range decisions {
		key := walletFamily{d.WalletID, d.ChainFamily}
		if !seen[key] {
			seen[key] = true
			result.BreachesFound++
			metrics.BreachesDetected.WithLabelValues(string(d.ChainFamily)).Inc()
			m.log.Info("Threshold breached",
				"cycle_id", result.ID,
				"wallet", d.WalletID,
				"family", d.ChainFamily,
				"usd", d.FamilyUSDValue.StringFixed(2),
				"threshold", threshold.StringFixed(2),
			)
		}
		m.cfg.Events.Dispatch(domain.Event{
			Type:        domain.EventBreachDetected,
			WalletID:    d.WalletID,
			ChainFamily: d.ChainFamily,
			Asset:       d.Asset.Key(),
			Amount:      d.AmountRaw.String(),
			USDValue:    d.USDValue,
		})
	}
}

// sweep runs decisions grouped per wallet and family. Groups run in parallel;
// within a group decisions keep their order so tokens go before native.
func (m *Monitor) sweep(
	ctx context.Context,
	decisions []domain.BreachDecision,
	cfg domain.MonitorConfig,
	result *domain.CycleResult,
) error {
	type groupKey struct {
		wallet string
		family domain.ChainFamily
	}
	var order []groupKey
	groups := make(map[groupKey][]domain.BreachDecision)
	for _, d := range decisions {
		k := groupKey{d.WalletID, d.ChainFamily}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], d)
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for _, k := range order {
		group := groups[k]
		g.Go(func() error {
			// native spent by this group's submitted transfers, which the
			// latest balance does not show yet
			committed := new(big.Int)
			for _, d := range group {
				if ctx.Err() != nil {
					return nil
				}
				if rec := m.sweepOne(ctx, d, cfg, committed, result); rec != nil && rec.Fee != nil {
					committed.Add(committed, rec.Fee)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (m *Monitor) sweepOne(
	ctx context.Context,
	d domain.BreachDecision,
	cfg domain.MonitorConfig,
	reserved *big.Int,
	result *domain.CycleResult,
) *domain.SweepRecord {
	rec, err := m.cfg.Sweeper.Sweep(ctx, d, cfg, reserved)
	switch {
	case err == nil:
		result.IncSubmitted()
	case errors.Is(err, storage.ErrAlreadyPending), errors.Is(err, sweeper.ErrNoDestinationConfigured):
		// not operational failures; config errors are notified by the sweeper
		result.IncSkipped()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// cycle is stopping
	default:
		result.IncSkipped()
		result.AddError(d.WalletID, d.ChainFamily, d.Asset.Key(), err)
	}
	return rec
}

// Run is the scheduler task: it runs a cycle and handles its outcome.
func (m *Monitor) Run(ctx context.Context) {
	start := time.Now()
	result, err := m.RunCycle(ctx)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.CyclesTotal.WithLabelValues("completed").Inc()
		metrics.WalletsScanned.Set(float64(result.WalletsScanned))
		m.mu.Lock()
		m.last = result
		m.mu.Unlock()
		if errs := result.Errors(); len(errs) > 0 {
			m.cycleError(result, fmt.Sprintf("%d wallet errors, first: %v", len(errs), errs[0]))
		}

	case errors.Is(err, ErrLocked):
		metrics.CyclesTotal.WithLabelValues("locked").Inc()
		m.log.Debug("Cycle skipped, another instance holds the lock", "cycle_id", result.ID)

	case ctx.Err() != nil:
		// partial results are discarded
		metrics.CyclesTotal.WithLabelValues("cancelled").Inc()
		m.log.Info("Cycle cancelled", "cycle_id", result.ID)

	default:
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		m.log.Error("Cycle failed", "cycle_id", result.ID, "error", err)
		m.cycleError(result, err.Error())
	}
}

func (m *Monitor) cycleError(result *domain.CycleResult, msg string) {
	m.cfg.Events.Dispatch(domain.Event{
		Type:    domain.EventCycleError,
		Message: fmt.Sprintf("cycle %s: %s", result.ID, msg),
	})
}

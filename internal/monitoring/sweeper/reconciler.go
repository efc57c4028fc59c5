package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
	"github.com/vietddude/sweepwatch/internal/monitoring/metrics"
)

const (
	DefaultConfirmationGrace = 2 * time.Minute
	DefaultDropAfter         = time.Hour
	defaultReconcileBatch    = 500
)

// ReconcilerConfig controls when submitted sweeps are checked and given up on.
type ReconcilerConfig struct {
	// ConfirmationGrace is how long a sweep stays submitted before it is checked.
	ConfirmationGrace time.Duration
	// DropAfter marks a sweep failed once its transaction has been unknown this long.
	DropAfter time.Duration
	// BatchSize caps records checked per pass.
	BatchSize int
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.ConfirmationGrace <= 0 {
		c.ConfirmationGrace = DefaultConfirmationGrace
	}
	if c.DropAfter <= 0 {
		c.DropAfter = DefaultDropAfter
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultReconcileBatch
	}
	return c
}

// Reconciler moves submitted sweeps to confirmed or failed.
type Reconciler struct {
	adapters map[domain.ChainFamily]chain.Adapter
	sweeps   storage.SweepRepository
	events   Events
	cfg      ReconcilerConfig
	now      func() time.Time
	log      *slog.Logger
}

func NewReconciler(
	adapters map[domain.ChainFamily]chain.Adapter,
	sweeps storage.SweepRepository,
	events Events,
	cfg ReconcilerConfig,
) *Reconciler {
	return &Reconciler{
		adapters: adapters,
		sweeps:   sweeps,
		events:   events,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		log:      slog.Default().With("component", "reconciler"),
	}
}

// ReconcileStats counts the outcomes of one pass.
type ReconcileStats struct {
	Checked   int
	Confirmed int
	Failed    int
	Dropped   int
	Errors    int
}

// Reconcile checks every submitted sweep older than the confirmation grace.
// Per-record failures are logged and counted; only listing errors are returned.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	now := r.now()

	records, err := r.sweeps.ListSubmittedBefore(ctx, now.Add(-r.cfg.ConfirmationGrace), r.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("list submitted sweeps: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		if err := r.reconcileOne(ctx, rec, now, &stats); err != nil {
			stats.Errors++
			r.log.Warn("Sweep reconciliation failed", "id", rec.ID, "tx", rec.TxHash, "error", err)
		}
	}

	if stats.Checked > 0 {
		r.log.Info("Reconciliation pass complete",
			"checked", stats.Checked,
			"confirmed", stats.Confirmed,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
			"errors", stats.Errors,
		)
	}
	return stats, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec *domain.SweepRecord, now time.Time, stats *ReconcileStats) error {
	adapter, ok := r.adapters[rec.ChainFamily]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAdapter, rec.ChainFamily)
	}

	status, err := adapter.TransactionStatus(ctx, rec.TxHash)
	if err != nil {
		return fmt.Errorf("transaction status: %w", err)
	}

	switch status {
	case domain.TxStatusConfirmed:
		if err := r.sweeps.MarkConfirmed(ctx, rec.ID); err != nil {
			return err
		}
		stats.Confirmed++
		r.finish(rec, domain.SweepStatusConfirmed, domain.EventSweepConfirmed, "")

	case domain.TxStatusFailed:
		reason := "transaction failed on chain"
		if err := r.sweeps.MarkFailed(ctx, rec.ID, reason); err != nil {
			return err
		}
		stats.Failed++
		r.finish(rec, domain.SweepStatusFailed, domain.EventSweepFailed, reason)

	case domain.TxStatusNotFound:
		if now.Sub(rec.UpdatedAt) < r.cfg.DropAfter {
			return nil
		}
		reason := fmt.Sprintf("transaction not found after %s", r.cfg.DropAfter)
		if err := r.sweeps.MarkFailed(ctx, rec.ID, reason); err != nil {
			return err
		}
		stats.Dropped++
		r.finish(rec, domain.SweepStatusFailed, domain.EventSweepFailed, reason)
	}
	return nil
}

func (r *Reconciler) finish(rec *domain.SweepRecord, status domain.SweepStatus, event domain.EventType, reason string) {
	metrics.SweepsTotal.WithLabelValues(string(rec.ChainFamily), string(status)).Inc()
	r.log.Info("Sweep resolved", "id", rec.ID, "tx", rec.TxHash, "status", status, "reason", reason)

	var amount string
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	r.events.Dispatch(domain.Event{
		Type:        event,
		WalletID:    rec.WalletID,
		ChainFamily: rec.ChainFamily,
		Asset:       rec.Asset,
		Amount:      amount,
		TxHash:      rec.TxHash,
		Message:     reason,
	})
}

// Package notify delivers operator-facing monitor events.
//
// Delivery is best effort. Failures are logged and counted but never reach
// the monitor's control flow.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

// Notifier delivers a single event.
type Notifier interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Notify delivers the event
	Notify(ctx context.Context, event domain.Event) error
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, e domain.Event) error {
	level := slog.LevelInfo
	switch e.Type {
	case domain.EventSweepFailed, domain.EventConfigError, domain.EventCycleError:
		level = slog.LevelWarn
	}
	n.log.Log(ctx, level, "Monitor event",
		"type", e.Type,
		"wallet", e.WalletID,
		"family", e.ChainFamily,
		"asset", e.Asset,
		"amount", e.Amount,
		"usd", e.USDValue.StringFixed(2),
		"tx", e.TxHash,
		"message", e.Message,
	)
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, e domain.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

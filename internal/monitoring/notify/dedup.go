package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

// Marker records a key for a window and reports whether it was new.
// The redis client implements it for multi-instance deployments.
type Marker interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryMarker is a process-local Marker.
type MemoryMarker struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{until: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryMarker) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.until[key] = now.Add(ttl)
	return true, nil
}

// Dedup drops repeats of recurring per-tuple events (breaches and config
// errors) within window. Other events pass through unchanged.
type Dedup struct {
	next   Notifier
	marker Marker
	window time.Duration
}

func NewDedup(next Notifier, marker Marker, window time.Duration) *Dedup {
	return &Dedup{next: next, marker: marker, window: window}
}

func (d *Dedup) Name() string { return d.next.Name() }

func (d *Dedup) Notify(ctx context.Context, e domain.Event) error {
	if d.window > 0 && (e.Type == domain.EventBreachDetected || e.Type == domain.EventConfigError) {
		key := string(e.Type) + ":" + e.WalletID + "/" + string(e.ChainFamily) + "/" + e.Asset
		fresh, err := d.marker.MarkOnce(ctx, key, d.window)
		if err != nil {
			slog.Warn("Notification dedup failed, delivering anyway", "key", key, "error", err)
		} else if !fresh {
			return nil
		}
	}
	return d.next.Notify(ctx, e)
}

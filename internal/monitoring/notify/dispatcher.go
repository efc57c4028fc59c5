package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/monitoring/metrics"
)

const (
	defaultQueueSize       = 256
	defaultDeliveryTimeout = 10 * time.Second
)

// Dispatcher delivers events asynchronously so slow sinks never stall a cycle.
// Events are dropped when the queue is full.
type Dispatcher struct {
	sink    Notifier
	timeout time.Duration
	queue   chan domain.Event
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the delivery worker.
func NewDispatcher(sink Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: timeout,
		queue:   make(chan domain.Event, defaultQueueSize),
		log:     slog.Default().With("component", "notify"),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues an event. Timestamp is filled when zero.
// Events dispatched after Close are dropped.
func (d *Dispatcher) Dispatch(e domain.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		metrics.NotificationsTotal.WithLabelValues(d.sink.Name(), "dropped").Inc()
		d.log.Warn("Notification queue full, dropping event", "type", e.Type, "wallet", e.WalletID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Notify(ctx, e); err != nil {
		metrics.NotificationsTotal.WithLabelValues(d.sink.Name(), "failed").Inc()
		d.log.Error("Notification delivery failed", "type", e.Type, "wallet", e.WalletID, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(d.sink.Name(), "delivered").Inc()
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package worker runs periodic background tasks.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Task is one unit of periodic work. It must return promptly once ctx is done.
type Task func(ctx context.Context)

// Scheduler fires a task on a fixed interval without ever overlapping runs.
// A tick that arrives while the previous run is still executing is skipped,
// not queued.
type Scheduler struct {
	name   string
	task   Task
	onSkip func()
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}
	// runs tracks the runs started since the last Start
	runs *sync.WaitGroup

	busy    atomic.Bool
	skipped atomic.Uint64
	lastRun atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSkipHook runs fn every time a tick is skipped.
func WithSkipHook(fn func()) Option {
	return func(s *Scheduler) { s.onSkip = fn }
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(name string, task Task, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:  name,
		task:  task,
		state: StateStopped,
		log:   slog.Default().With("component", "scheduler", "scheduler", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins firing the task every interval. With runImmediately the first
// run starts now instead of after one interval.
func (s *Scheduler) Start(interval time.Duration, runImmediately bool) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.runs = &sync.WaitGroup{}
	s.state = StateRunning

	go s.loop(ctx, interval, runImmediately, s.loopDone, s.runs)

	s.log.Info("Scheduler started", "interval", interval, "run_immediately", runImmediately)
	return nil
}

func (s *Scheduler) loop(
	ctx context.Context,
	interval time.Duration,
	runImmediately bool,
	done chan struct{},
	runs *sync.WaitGroup,
) {
	defer close(done)

	if runImmediately {
		s.fire(ctx, runs)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, runs)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, runs *sync.WaitGroup) {
	if !s.busy.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		if s.onSkip != nil {
			s.onSkip()
		}
		s.log.Warn("Tick skipped, previous run still in progress", "skipped_total", n)
		return
	}

	runs.Add(1)
	go func() {
		defer runs.Done()
		defer s.busy.Store(false)

		s.lastRun.Store(time.Now().UnixNano())
		s.task(ctx)
	}()
}

// Stop cancels the in-flight run and waits for it to return, or for ctx to end.
// The scheduler reports stopped as soon as the run is cancelled. Stopping a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.state = StateStopped
	loopDone, runs := s.loopDone, s.runs
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-loopDone
		runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out with a run still in progress")
		return ctx.Err()
	}
}

// State reports whether the scheduler is running.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a run is executing.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Skipped returns the number of ticks skipped since creation.
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

// LastRun returns when the most recent run started, or the zero time.
func (s *Scheduler) LastRun() time.Time {
	ns := s.lastRun.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

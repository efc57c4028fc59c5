package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/core/worker"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/routing"
)

const maxReportedErrors = 20

// Scheduler is the part of worker.Scheduler the monitor reads.
type Scheduler interface {
	State() worker.State
	Busy() bool
	Skipped() uint64
	LastRun() time.Time
}

// EndpointSource reports RPC endpoint health.
type EndpointSource interface {
	Health() []routing.EndpointHealth
}

// CycleSource reports the last completed cycle.
type CycleSource interface {
	LastResult() *domain.CycleResult
}

// Pinger checks a backing dependency such as the database or redis.
type Pinger func(ctx context.Context) error

// Monitor aggregates health status from various system components.
type Monitor struct {
	scheduler    Scheduler
	endpoints    EndpointSource
	cycles       CycleSource
	dependencies map[string]Pinger

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
	cacheFor   time.Duration
}

// NewMonitor creates a new health monitor. Any source may be nil.
func NewMonitor(scheduler Scheduler, endpoints EndpointSource, cycles CycleSource) *Monitor {
	return &Monitor{
		scheduler:    scheduler,
		endpoints:    endpoints,
		cycles:       cycles,
		dependencies: make(map[string]Pinger),
		cacheFor:     5 * time.Second,
	}
}

// AddDependency registers a dependency checked on every report.
func (m *Monitor) AddDependency(name string, ping Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencies[name] = ping
}

// CheckHealth builds a report. Reports are cached briefly so probes don't
// hammer the database.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Dependencies: make(map[string]string),
	}

	if m.scheduler != nil {
		report.Scheduler = SchedulerHealth{
			State:        m.scheduler.State(),
			Busy:         m.scheduler.Busy(),
			SkippedTicks: m.scheduler.Skipped(),
		}
		if last := m.scheduler.LastRun(); !last.IsZero() {
			report.Scheduler.LastRun = &last
		}
	}

	if m.cycles != nil {
		if r := m.cycles.LastResult(); r != nil {
			report.LastCycle = summarize(r)
			if len(report.LastCycle.Errors) > 0 {
				report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
			}
		}
	}

	if m.endpoints != nil {
		report.Endpoints = m.endpoints.Health()
		report.SystemStatus = worst(report.SystemStatus, endpointStatus(report.Endpoints))
	}

	for name, ping := range m.dependencies {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := ping(pingCtx)
		cancel()
		if err != nil {
			report.Dependencies[name] = err.Error()
			report.SystemStatus = StatusCritical
			continue
		}
		report.Dependencies[name] = "ok"
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

// endpointStatus is critical when a family has no healthy endpoint and
// degraded when some endpoint is down.
func endpointStatus(endpoints []routing.EndpointHealth) SystemStatus {
	healthy := make(map[domain.ChainFamily]int)
	status := StatusHealthy
	for _, ep := range endpoints {
		if _, ok := healthy[ep.Family]; !ok {
			healthy[ep.Family] = 0
		}
		if ep.Healthy {
			healthy[ep.Family]++
		} else {
			status = StatusDegraded
		}
	}
	for _, n := range healthy {
		if n == 0 {
			return StatusCritical
		}
	}
	return status
}

func summarize(r *domain.CycleResult) *CycleSummary {
	s := &CycleSummary{
		ID:              r.ID,
		StartedAt:       r.StartedAt,
		DurationMS:      r.Duration().Milliseconds(),
		WalletsScanned:  r.WalletsScanned,
		BreachesFound:   r.BreachesFound,
		SweepsSubmitted: r.SweepsSubmitted,
		SweepsSkipped:   r.SweepsSkipped,
	}
	for i, e := range r.Errors() {
		if i == maxReportedErrors {
			break
		}
		s.Errors = append(s.Errors, e.Error())
	}
	return s
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

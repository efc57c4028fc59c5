// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/sweepwatch/internal/core/worker"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/routing"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SchedulerHealth describes the cycle scheduler.
type SchedulerHealth struct {
	State        worker.State `json:"state"`
	Busy         bool         `json:"busy"`
	SkippedTicks uint64       `json:"skipped_ticks"`
	LastRun      *time.Time   `json:"last_run,omitempty"`
}

// CycleSummary describes the last completed cycle.
type CycleSummary struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
	WalletsScanned  int       `json:"wallets_scanned"`
	BreachesFound   int       `json:"breaches_found"`
	SweepsSubmitted int       `json:"sweeps_submitted"`
	SweepsSkipped   int       `json:"sweeps_skipped"`
	Errors          []string  `json:"errors,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus             `json:"system_status"`
	Scheduler    SchedulerHealth          `json:"scheduler"`
	LastCycle    *CycleSummary            `json:"last_cycle,omitempty"`
	Endpoints    []routing.EndpointHealth `json:"endpoints"`
	Dependencies map[string]string        `json:"dependencies"`
}

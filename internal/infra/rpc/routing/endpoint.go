package routing

import (
	"sync/atomic"
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

// Endpoint is one configured provider for a chain family.
// Health is tracked with atomics so concurrent callers never block each other.
type Endpoint struct {
	ID       string
	Family   domain.ChainFamily
	URL      string
	Priority int

	provider provider.Provider

	consecutiveFailures atomic.Int32
	lastFailureAt       atomic.Int64 // unix nanos, 0 if never failed
}

// Healthy reports whether the endpoint may be selected at now.
// An endpoint at or past the failure threshold becomes eligible again once the
// cooldown has elapsed since its last failure.
func (e *Endpoint) Healthy(now time.Time, threshold int, cooldown time.Duration) bool {
	if int(e.consecutiveFailures.Load()) < threshold {
		return true
	}
	last := e.lastFailureAt.Load()
	return last == 0 || now.Sub(time.Unix(0, last)) >= cooldown
}

func (e *Endpoint) recordFailure(now time.Time) int32 {
	e.lastFailureAt.Store(now.UnixNano())
	return e.consecutiveFailures.Add(1)
}

func (e *Endpoint) recordSuccess() {
	e.consecutiveFailures.Store(0)
}

// EndpointHealth is a point-in-time view of an endpoint.
type EndpointHealth struct {
	ID                  string             `json:"id"`
	Family              domain.ChainFamily `json:"family"`
	URL                 string             `json:"url"`
	Priority            int                `json:"priority"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastFailureAt       *time.Time         `json:"last_failure_at,omitempty"`
	Healthy             bool               `json:"healthy"`
}

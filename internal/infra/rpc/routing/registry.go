// Package routing selects chain endpoints and fails over between them.
//
// This package contains:
//   - Registry: endpoints per chain family ordered by priority, with health tracking
//   - Handle: executes operations against the healthiest endpoints in order
//   - ClassifyError: decides whether an error blames the endpoint or the request
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
	"github.com/vietddude/sweepwatch/internal/monitoring/metrics"
)

var (
	// ErrNoHealthyEndpoint is returned when every endpoint of a family is cooling down.
	ErrNoHealthyEndpoint = errors.New("no healthy endpoint")
	// ErrAllEndpointsFailed is returned when every candidate failed during one call.
	ErrAllEndpointsFailed = errors.New("all endpoints failed")
	// ErrPriorAttemptFailed wraps a request error returned by a fallback endpoint.
	// An earlier endpoint may have acted on the request before failing.
	ErrPriorAttemptFailed = errors.New("earlier endpoint attempt failed")
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 60 * time.Second
	DefaultCallTimeout      = 10 * time.Second
)

// Config controls endpoint health and call timing.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	CallTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Registry holds the endpoints of every chain family.
type Registry struct {
	cfg Config
	now func() time.Time

	mu        sync.RWMutex
	endpoints map[domain.ChainFamily][]*Endpoint
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		endpoints: make(map[domain.ChainFamily][]*Endpoint),
	}
}

// AddEndpoint registers a provider for a family. Lower priority values are tried first;
// equal priorities keep registration order.
func (r *Registry) AddEndpoint(
	family domain.ChainFamily,
	url string,
	priority int,
	p provider.Provider,
) *Endpoint {
	ep := &Endpoint{
		ID:       p.GetName(),
		Family:   family,
		URL:      url,
		Priority: priority,
		provider: p,
	}

	r.mu.Lock()
	list := append(r.endpoints[family], ep)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	r.endpoints[family] = list
	r.mu.Unlock()

	metrics.EndpointHealthy.WithLabelValues(string(family), ep.ID).Set(1)
	return ep
}

// Families returns the families with at least one endpoint.
func (r *Registry) Families() []domain.ChainFamily {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ChainFamily, 0, len(r.endpoints))
	for _, f := range domain.ChainFamilies {
		if len(r.endpoints[f]) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// GetHandle returns a handle for the family, or ErrNoHealthyEndpoint when none
// of its endpoints is currently eligible.
func (r *Registry) GetHandle(family domain.ChainFamily) (*Handle, error) {
	r.mu.RLock()
	all := r.endpoints[family]
	r.mu.RUnlock()

	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured for %s", ErrNoHealthyEndpoint, family)
	}
	if len(r.candidates(family)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHealthyEndpoint, family)
	}
	return &Handle{registry: r, family: family}, nil
}

// ReportFailure marks one failure against an endpoint.
func (r *Registry) ReportFailure(family domain.ChainFamily, endpointID string) {
	ep := r.find(family, endpointID)
	if ep == nil {
		return
	}
	failures := ep.recordFailure(r.now())
	if int(failures) >= r.cfg.FailureThreshold {
		metrics.EndpointHealthy.WithLabelValues(string(family), ep.ID).Set(0)
		if int(failures) == r.cfg.FailureThreshold {
			slog.Warn("Endpoint marked unhealthy",
				"family", family,
				"endpoint", ep.ID,
				"failures", failures,
				"cooldown", r.cfg.Cooldown,
			)
		}
	}
}

// ReportSuccess resets the failure count of an endpoint.
func (r *Registry) ReportSuccess(family domain.ChainFamily, endpointID string) {
	ep := r.find(family, endpointID)
	if ep == nil {
		return
	}
	if ep.consecutiveFailures.Load() >= int32(r.cfg.FailureThreshold) {
		slog.Info("Endpoint recovered", "family", family, "endpoint", ep.ID)
	}
	ep.recordSuccess()
	metrics.EndpointHealthy.WithLabelValues(string(family), ep.ID).Set(1)
}

// Health returns a snapshot of every endpoint.
func (r *Registry) Health() []EndpointHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var out []EndpointHealth
	for _, f := range domain.ChainFamilies {
		for _, ep := range r.endpoints[f] {
			h := EndpointHealth{
				ID:                  ep.ID,
				Family:              ep.Family,
				URL:                 ep.URL,
				Priority:            ep.Priority,
				ConsecutiveFailures: int(ep.consecutiveFailures.Load()),
				Healthy:             ep.Healthy(now, r.cfg.FailureThreshold, r.cfg.Cooldown),
			}
			if last := ep.lastFailureAt.Load(); last != 0 {
				t := time.Unix(0, last).UTC()
				h.LastFailureAt = &t
			}
			out = append(out, h)
		}
	}
	return out
}

// Close closes every provider and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, list := range r.endpoints {
		for _, ep := range list {
			if err := ep.provider.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Client returns a caller bound to family. Each call resolves a fresh handle,
// so a family that recovers between calls is picked up without rewiring.
func (r *Registry) Client(family domain.ChainFamily) *FamilyClient {
	return &FamilyClient{registry: r, family: family}
}

func (r *Registry) candidates(family domain.ChainFamily) []*Endpoint {
	r.mu.RLock()
	all := r.endpoints[family]
	r.mu.RUnlock()

	now := r.now()
	out := make([]*Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Healthy(now, r.cfg.FailureThreshold, r.cfg.Cooldown) {
			out = append(out, ep)
		}
	}
	return out
}

func (r *Registry) find(family domain.ChainFamily, id string) *Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ep := range r.endpoints[family] {
		if ep.ID == id {
			return ep
		}
	}
	return nil
}

// Handle executes operations for one chain family with failover.
type Handle struct {
	registry *Registry
	family   domain.ChainFamily
}

// Family returns the chain family the handle serves.
func (h *Handle) Family() domain.ChainFamily {
	return h.family
}

// Execute runs op against healthy endpoints in priority order. Endpoint failures
// move on to the next candidate. Request errors are returned as-is, wrapped in
// ErrPriorAttemptFailed when an earlier candidate already failed.
func (h *Handle) Execute(ctx context.Context, op provider.Operation) (any, error) {
	r := h.registry
	candidates := r.candidates(h.family)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHealthyEndpoint, h.family)
	}

	family := string(h.family)
	var lastErr error
	for i, ep := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		start := time.Now()
		res, err := ep.provider.Execute(attemptCtx, op)
		cancel()

		metrics.RPCCallsTotal.WithLabelValues(family, ep.ID, op.Name).Inc()
		metrics.RPCLatency.WithLabelValues(family, ep.ID, op.Name).Observe(time.Since(start).Seconds())

		if err == nil {
			r.ReportSuccess(h.family, ep.ID)
			return res, nil
		}

		// The caller gave up; the endpoint is not at fault.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		action := ClassifyError(err)
		metrics.RPCErrorsTotal.WithLabelValues(family, ep.ID, action.String()).Inc()
		if action == ActionFatal {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (%v): %w", ErrPriorAttemptFailed, lastErr, err)
			}
			return nil, err
		}

		r.ReportFailure(h.family, ep.ID)
		lastErr = err
		if i < len(candidates)-1 {
			metrics.EndpointFailovers.WithLabelValues(family, ep.ID).Inc()
			slog.Warn("Endpoint call failed, failing over",
				"family", h.family,
				"endpoint", ep.ID,
				"method", op.Name,
				"error", err,
			)
		}
	}

	return nil, fmt.Errorf("%w: %s %s: %w", ErrAllEndpointsFailed, h.family, op.Name, lastErr)
}

// FamilyClient executes operations for one family through the registry.
type FamilyClient struct {
	registry *Registry
	family   domain.ChainFamily
}

func (c *FamilyClient) Execute(ctx context.Context, op provider.Operation) (any, error) {
	h, err := c.registry.GetHandle(c.family)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, op)
}

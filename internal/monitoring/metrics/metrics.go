package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per chain family and endpoint
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"family", "endpoint", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per endpoint and how they were handled
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"family", "endpoint", "action"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweepwatch_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family", "endpoint", "method"},
	)

	// EndpointFailovers counts calls that moved past a failing endpoint
	EndpointFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_endpoint_failovers_total",
			Help: "Total number of failovers away from an endpoint",
		},
		[]string{"family", "endpoint"},
	)

	// EndpointHealthy is 1 while an endpoint is eligible for selection
	EndpointHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sweepwatch_endpoint_healthy",
			Help: "Whether an endpoint is currently considered healthy",
		},
		[]string{"family", "endpoint"},
	)

	// CyclesTotal tracks completed monitoring cycles by outcome
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_cycles_total",
			Help: "Total number of monitoring cycles",
		},
		[]string{"outcome"},
	)

	// CyclesSkipped counts ticks dropped because a cycle was still running
	CyclesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweepwatch_cycles_skipped_total",
			Help: "Total number of ticks skipped while a cycle was in flight",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweepwatch_cycle_duration_seconds",
			Help:    "Monitoring cycle duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// WalletsScanned is the wallet count of the last cycle
	WalletsScanned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweepwatch_wallets_scanned",
			Help: "Number of wallets scanned in the last cycle",
		},
	)

	// BreachesDetected tracks threshold breaches per chain family
	BreachesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_breaches_detected_total",
			Help: "Total number of threshold breaches detected",
		},
		[]string{"family"},
	)

	// SweepsTotal tracks sweep status transitions
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_sweeps_total",
			Help: "Total number of sweep status transitions",
		},
		[]string{"family", "status"},
	)

	// ValuationErrors counts failed USD lookups per asset
	ValuationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_valuation_errors_total",
			Help: "Total number of failed USD valuations",
		},
		[]string{"asset"},
	)

	// NotificationsTotal tracks event delivery per sink
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepwatch_notifications_total",
			Help: "Total number of notifications delivered",
		},
		[]string{"sink", "outcome"},
	)
)

// DBConnectionPoolUsage tracks the percentage of open connections in use
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "sweepwatch_db_connection_pool_usage_percent",
		Help: "Database connection pool usage percentage",
	},
)

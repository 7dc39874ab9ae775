package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_executor_runs_total",
			Help: "Executor passes by outcome (ok, idle, error)",
		},
		[]string{"outcome"},
	)

	ExecutorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_executor_run_duration_seconds",
			Help:    "Duration of a full executor pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_schedules_processed_total",
			Help: "Schedule requests processed by resulting status and failure kind",
		},
		[]string{"status", "kind"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_delivery_duration_seconds",
			Help:    "Duration of a single outbound audio POST",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode", "outcome"},
	)

	AudioSource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_audio_resolved_total",
			Help: "Audio payloads resolved by storage representation",
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint host (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	LedgerPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_ledger_pending",
			Help: "Deliveries whose status write has not been confirmed, as of the last reconcile",
		},
	)
)

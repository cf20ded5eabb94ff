// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_reconcile_attempts_total",
			Help: "Reconciliation attempts by outcome",
		},
		[]string{"reason", "outcome"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_reconcile_duration_seconds",
			Help:    "Time spent pushing one account's state to the gateway",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_reconcile_dead_lettered_total",
			Help: "Reconcile jobs that exhausted their attempts",
		},
	)

	ReconcileQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_reconcile_jobs",
			Help: "Reconcile jobs by status",
		},
		[]string{"status"},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_admin_requests_total",
			Help: "Gateway admin API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_admin_request_duration_seconds",
			Help:    "Gateway admin API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	UsageRecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_records_written_total",
			Help: "Usage records persisted",
		},
	)

	UsageRecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_records_dropped_total",
			Help: "Usage records lost before persistence",
		},
		[]string{"reason"},
	)
)

package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the Identity Store.
var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "message_broker",
			Subsystem: "identity",
			Name:      "operations_total",
			Help:      "Total identity store operations by operation and status.",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "message_broker",
			Subsystem: "identity",
			Name:      "operation_duration_seconds",
			Help:      "Identity store operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "message_broker",
			Subsystem: "identity",
			Name:      "auth_attempts_total",
			Help:      "Operator authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func recordOperation(operation, status string) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "message_broker",
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Total registry operations by operation and status.",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "message_broker",
			Subsystem: "registry",
			Name:      "operation_duration_seconds",
			Help:      "Registry operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	MessagesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "message_broker",
			Subsystem: "registry",
			Name:      "messages_by_status",
			Help:      "Snapshot count of messages by lifecycle status.",
		},
		[]string{"status"},
	)
)

func recordOperation(operation, status string) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

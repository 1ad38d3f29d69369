package redis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "message_broker",
		Subsystem: "queue_redis",
		Name:      "operations_total",
		Help:      "Total Redis queue operations by type and outcome.",
	}, []string{"operation", "status"})

	depthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "message_broker",
		Subsystem: "queue_redis",
		Name:      "depth",
		Help:      "Observed Redis queue depth at last sample.",
	}, []string{"key"})
)

func recordOperation(operation, status string) {
	operationsTotal.WithLabelValues(operation, status).Inc()
}

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names mirror spec.md §6's required exposition series.
var (
	messagesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "message_broker",
		Subsystem: "worker",
		Name:      "messages_delivered_total",
		Help:      "Messages successfully delivered, by worker.",
	}, []string{"worker_id"})

	messagesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "message_broker",
		Subsystem: "worker",
		Name:      "messages_failed_total",
		Help:      "Messages that reached a terminal failure, by worker and reason.",
	}, []string{"worker_id", "reason"})

	messagesOrphanedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "message_broker",
		Subsystem: "worker",
		Name:      "messages_orphaned_total",
		Help:      "Queue items with no matching registry row, dropped without retry.",
	}, []string{"worker_id"})

	deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "message_broker",
		Subsystem: "worker",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent in the Deliver call, by worker.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"worker_id"})

	queueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "message_broker",
		Subsystem: "worker",
		Name:      "queue_wait_seconds",
		Help:      "Time a message spent queued before an in-flight delivery attempt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"worker_id"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "message_broker",
		Subsystem: "worker",
		Name:      "active_workers",
		Help:      "Number of in-flight delivery tasks right now.",
	})
)

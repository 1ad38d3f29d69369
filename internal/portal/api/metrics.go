package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names required by spec.md §6.
var (
	certificatesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "message_broker",
		Subsystem: "portal",
		Name:      "certificates_issued_total",
		Help:      "Client certificates registered through the admin API.",
	})

	certificatesRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "message_broker",
		Subsystem: "portal",
		Name:      "certificates_revoked_total",
		Help:      "Client certificates revoked through the admin API.",
	})
)

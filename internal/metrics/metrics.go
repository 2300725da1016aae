// Package metrics registers Prometheus collectors for lifecycle operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts lifecycle operations by outcome.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_operations_total",
			Help: "Lifecycle operations by name and result",
		},
		[]string{"op", "result"},
	)

	// gatewayDuration tracks how long encrypt/decrypt calls take; the gateway
	// is the only blocking collaborator in the request path.
	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filevault_gateway_duration_seconds",
			Help:    "Encryption gateway call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Operation records one finished lifecycle operation.
func Operation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}

// GatewayCall records the duration of one encrypt/decrypt call.
func GatewayCall(op string, start time.Time) {
	gatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

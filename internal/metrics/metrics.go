// Package metrics exposes Prometheus instruments for engine transitions and
// settlements.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transitions counts engine operations by outcome.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigescrow",
			Name:      "transitions_total",
			Help:      "Engine operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gigescrow",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)

	// Settled sums amounts leaving escrow, by kind: payout, fee, refund.
	Settled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigescrow",
			Name:      "settled_amount_total",
			Help:      "Minor units paid out of escrow",
		},
		[]string{"kind"},
	)

	Deposited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gigescrow",
			Name:      "deposited_amount_total",
			Help:      "Minor units deposited into escrow",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gigescrow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "status"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigescrow",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by result",
		},
		[]string{"result"},
	)
)

// Observe records one engine operation.
func Observe(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Transitions.WithLabelValues(operation, result).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

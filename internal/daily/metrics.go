package daily

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts Daily API calls.
	// Labels: operation (create_room, delete_room), outcome (success, error, retry)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "focusd",
			Subsystem: "daily",
			Name:      "requests_total",
			Help:      "Total number of Daily REST API requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// RequestDuration tracks Daily API latency including retries.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "focusd",
			Subsystem: "daily",
			Name:      "request_duration_seconds",
			Help:      "Duration of Daily REST API operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func recordOutcome(operation string, err error) {
	if err != nil {
		RequestsTotal.WithLabelValues(operation, "error").Inc()
		return
	}
	RequestsTotal.WithLabelValues(operation, "success").Inc()
}

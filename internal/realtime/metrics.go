package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events published to the bus.
	// Labels: topic (intentions, stage, lifecycle), action
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "focusd",
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Total number of session events published",
		},
		[]string{"topic", "action"},
	)

	// PublishErrors counts failed publishes.
	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "focusd",
			Subsystem: "realtime",
			Name:      "publish_errors_total",
			Help:      "Total number of failed event publishes",
		},
		[]string{"topic"},
	)

	// StreamClients tracks open SSE streams.
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "focusd",
			Subsystem: "realtime",
			Name:      "sse_clients",
			Help:      "Number of connected Server-Sent Events clients",
		},
	)
)

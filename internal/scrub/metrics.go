package scrub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redactions counts redacted spans by rule.
var Redactions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "focusd",
		Subsystem: "scrub",
		Name:      "redactions_total",
		Help:      "Total number of spans redacted from shared text",
	},
	[]string{"rule"},
)

package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveClocks is the number of running session clocks.
	ActiveClocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "focusd",
			Subsystem: "runner",
			Name:      "active_clocks",
			Help:      "Number of session stage clocks currently running",
		},
	)

	// Transitions counts stage changes by the kind of stage entered.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "focusd",
			Subsystem: "runner",
			Name:      "stage_transitions_total",
			Help:      "Total number of stage transitions by stage kind",
		},
		[]string{"kind"},
	)
)

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LoginsTotal counts completed sign-ins by provider.
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "focusd",
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Total number of completed OAuth sign-ins by provider",
	},
	[]string{"provider"},
)

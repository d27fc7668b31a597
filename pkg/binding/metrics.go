package binding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportgrid",
		Subsystem: "binding",
		Name:      "transitions_total",
		Help:      "Total number of grid status transitions broken down by target status.",
	}, []string{"status"})

	discardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportgrid",
		Subsystem: "binding",
		Name:      "discarded_total",
		Help:      "Total number of late signals dropped by the binding controller.",
	}, []string{"reason"})
)

package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reportgrid",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of mounted grid sessions.",
	})

	sessionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportgrid",
		Subsystem: "sessions",
		Name:      "opened_total",
		Help:      "Total number of grid sessions opened broken down by screen and kind.",
	}, []string{"screen", "kind"})

	sessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportgrid",
		Subsystem: "sessions",
		Name:      "closed_total",
		Help:      "Total number of grid sessions closed broken down by reason.",
	}, []string{"reason"})

	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportgrid",
		Subsystem: "sessions",
		Name:      "searches_total",
		Help:      "Total number of searches broken down by screen and outcome.",
	}, []string{"screen", "outcome"})

	rowEditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportgrid",
		Subsystem: "sessions",
		Name:      "row_edits_total",
		Help:      "Total number of inline row edits broken down by screen and outcome.",
	}, []string{"screen", "outcome"})
)

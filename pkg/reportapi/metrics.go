package reportapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportgrid",
		Subsystem: "reportapi",
		Name:      "requests_total",
		Help:      "Total number of report API calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reportgrid",
		Subsystem: "reportapi",
		Name:      "request_duration_seconds",
		Help:      "Latency of report API calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})
)

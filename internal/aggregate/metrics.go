package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_analytics_aggregation_runs_total",
		Help: "Aggregation runs by used mode and result",
	}, []string{"mode", "result"})

	fallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_analytics_aggregation_fallback_total",
		Help: "Auto-mode runs that fell back from per-day to range",
	})

	rowsPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flow_analytics_aggregation_rows",
		Help:    "Rows returned per successful aggregation run",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})

	enrichmentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_analytics_enrichment_failures_total",
		Help: "Message metadata lookups skipped after an upstream failure",
	})
)

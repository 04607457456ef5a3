package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// upstreamRequests counts HTTP attempts by endpoint and status code.
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_analytics_upstream_requests_total",
		Help: "Upstream reporting API requests by endpoint and status code",
	}, []string{"endpoint", "code"})

	// upstreamThrottled counts 429 responses that triggered a backoff.
	upstreamThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flow_analytics_upstream_throttled_total",
		Help: "Upstream 429 responses that were retried, by endpoint",
	}, []string{"endpoint"})
)

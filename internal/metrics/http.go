package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playsession_http_requests_total",
		Help: "Total number of HTTP requests by route pattern, method and status code",
	}, []string{"route", "method", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playsession_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// ObserveHTTPRequest records one served request. route is the router pattern,
// never the raw path, to keep label cardinality bounded.
func ObserveHTTPRequest(route, method string, status int, seconds float64) {
	route = labelOrUnknown(route)
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(seconds)
}

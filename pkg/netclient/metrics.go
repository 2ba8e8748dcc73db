package netclient

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_http_attempts_total",
			Help: "Total number of HTTP request attempts",
		},
		[]string{"method"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_http_retries_total",
			Help: "Total number of HTTP retries scheduled, by failure code",
		},
		[]string{"code"},
	)

	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_http_requests_total",
			Help: "Total number of HTTP requests by final outcome code",
		},
		[]string{"method", "code"},
	)

	retryDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faultline_http_retry_delay_seconds",
			Help:    "Delay scheduled before each HTTP retry",
			Buckets: []float64{1, 2, 4, 8, 16, 30},
		},
	)
)

// Collectors returns the client's metrics for registration
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{attemptsTotal, retriesTotal, outcomesTotal, retryDelay}
}

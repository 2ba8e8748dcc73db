package stream

import "github.com/prometheus/client_golang/prometheus"

var (
	statusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultline_stream_status",
			Help: "Current stream status (1 for the active status)",
		},
		[]string{"status"},
	)

	reconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_stream_reconnect_attempts_total",
			Help: "Total number of reconnect attempts",
		},
	)

	exhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_stream_reconnect_exhausted_total",
			Help: "Total number of times automatic reconnection gave up",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_stream_events_total",
			Help: "Total number of stream frames by outcome",
		},
		[]string{"outcome"},
	)
)

// Collectors returns the reconnector's metrics for registration
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{statusGauge, reconnectAttempts, exhaustedTotal, eventsTotal}
}

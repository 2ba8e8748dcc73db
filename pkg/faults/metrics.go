package faults

import "github.com/prometheus/client_golang/prometheus"

var (
	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_reports_total",
			Help: "Total number of reported faults",
		},
		[]string{"kind", "severity"},
	)

	invalidTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_reports_invalid_total",
			Help: "Total number of reported faults rejected by validation",
		},
	)
)

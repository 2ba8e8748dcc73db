package queue

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics tracks queue activity and syncs with Prometheus
type QueueMetrics struct {
	enqueued int64
	acked    int64
	retried  int64
	failed   int64
	requeued int64
	dropped  int64
	mu       sync.RWMutex
}

// NewQueueMetrics creates a new metrics collector
func NewQueueMetrics() *QueueMetrics {
	return &QueueMetrics{}
}

// RecordEnqueued records an operation enqueue
func (qm *QueueMetrics) RecordEnqueued(kind string) {
	qm.mu.Lock()
	qm.enqueued++
	qm.mu.Unlock()
	opsEnqueued.WithLabelValues(kind).Inc()
}

// RecordAcked records a delivered operation
func (qm *QueueMetrics) RecordAcked(kind string) {
	qm.mu.Lock()
	qm.acked++
	qm.mu.Unlock()
	opsAcked.WithLabelValues(kind).Inc()
}

// RecordRetried records a failed replay attempt
func (qm *QueueMetrics) RecordRetried(kind string) {
	qm.mu.Lock()
	qm.retried++
	qm.mu.Unlock()
	opsRetried.WithLabelValues(kind).Inc()
}

// RecordFailed records an operation that exhausted its attempts
func (qm *QueueMetrics) RecordFailed() {
	qm.mu.Lock()
	qm.failed++
	qm.mu.Unlock()
	opsFailed.Inc()
}

// RecordRequeued records a manual requeue of a failed operation
func (qm *QueueMetrics) RecordRequeued() {
	qm.mu.Lock()
	qm.requeued++
	qm.mu.Unlock()
	opsRequeued.Inc()
}

// RecordDropped records an operation deleted without delivery
func (qm *QueueMetrics) RecordDropped() {
	qm.mu.Lock()
	qm.dropped++
	qm.mu.Unlock()
	opsDropped.Inc()
}

// RecordWaitDuration records how long an operation waited before delivery
func (qm *QueueMetrics) RecordWaitDuration(kind string, duration time.Duration) {
	opWaitTime.WithLabelValues(kind).Observe(duration.Seconds())
}

// UpdateGauges updates the depth gauges with current state
func (qm *QueueMetrics) UpdateGauges(pending, failed int) {
	queueDepth.WithLabelValues(string(StatusPending)).Set(float64(pending))
	queueDepth.WithLabelValues(string(StatusFailed)).Set(float64(failed))
}

// GetSnapshot returns a snapshot of current counts
func (qm *QueueMetrics) GetSnapshot() map[string]int64 {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return map[string]int64{
		"enqueued": qm.enqueued,
		"acked":    qm.acked,
		"retried":  qm.retried,
		"failed":   qm.failed,
		"requeued": qm.requeued,
		"dropped":  qm.dropped,
	}
}

// Collectors returns the queue's metrics for registration
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		opsEnqueued, opsAcked, opsRetried, opsFailed, opsRequeued, opsDropped, queueDepth, opWaitTime,
	}
}

var (
	opsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_offline_enqueued_total",
			Help: "Total number of operations queued while offline",
		},
		[]string{"kind"},
	)

	opsAcked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_offline_acked_total",
			Help: "Total number of queued operations delivered",
		},
		[]string{"kind"},
	)

	opsRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_offline_attempts_failed_total",
			Help: "Total number of failed replay attempts",
		},
		[]string{"kind"},
	)

	opsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_offline_failed_total",
			Help: "Total number of operations that exhausted their attempts",
		},
	)

	opsRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_offline_requeued_total",
			Help: "Total number of failed operations requeued",
		},
	)

	opsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_offline_dropped_total",
			Help: "Total number of operations dropped without delivery",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultline_offline_depth",
			Help: "Current number of queued operations",
		},
		[]string{"state"},
	)

	opWaitTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_offline_wait_duration_seconds",
			Help:    "Time operations spend queued before delivery",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)
)

// Package metrics provides Prometheus metrics for scan processing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors used by the API and the worker.
type Metrics struct {
	enabled bool

	scansTotal      *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	publishFailures prometheus.Counter
	tallyEvents     *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}
	if !enabled {
		return m
	}

	m.scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Scan submissions by outcome (recorded, rejection reason, storage_unavailable or error)",
	}, []string{"outcome"})

	m.scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_scan_duration_seconds",
		Help:    "Time spent processing a scan submission",
		Buckets: prometheus.DefBuckets,
	})

	m.publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_event_publish_failures_total",
		Help: "Recorded scans whose event could not be queued",
	})

	m.tallyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_tally_events_total",
		Help: "Queue events handled by the tally consumer",
	}, []string{"result"})

	return m
}

// ObserveScan records the outcome and latency of one scan.
func (m *Metrics) ObserveScan(outcome string, elapsed time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.scansTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(elapsed.Seconds())
}

// RecordPublishFailure counts an event that was not queued.
func (m *Metrics) RecordPublishFailure() {
	if m == nil || !m.enabled {
		return
	}
	m.publishFailures.Inc()
}

// RecordTally counts a consumed event; result is "applied", "skipped" or "failed".
func (m *Metrics) RecordTally(result string) {
	if m == nil || !m.enabled {
		return
	}
	m.tallyEvents.WithLabelValues(result).Inc()
}

// Package metrics registers the engine's ambient Prometheus instrumentation
// (SPEC_FULL.md §11). It carries no bearing on job control: every method is
// nil-receiver safe so callers that construct a job engine without metrics
// (e.g. most tests) can pass a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/halvarsen/compactd/internal/walk"
)

// Metrics holds the engine's process-wide counters/gauges/histogram.
type Metrics struct {
	filesScanned             *prometheus.CounterVec
	bytesLogical             prometheus.Gauge
	bytesPhysical            prometheus.Gauge
	compresstimatorInvocations prometheus.Counter
	jobDuration               *prometheus.HistogramVec
}

// New registers every metric against reg. Pass prometheus.NewRegistry() in
// tests to avoid colliding with the global default registerer across
// parallel test binaries.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		filesScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compactd_files_scanned_total",
			Help: "Files visited by the walker, labelled by classification bin.",
		}, []string{"bin"}),
		bytesLogical: factory.NewGauge(prometheus.GaugeOpts{
			Name: "compactd_bytes_logical_total",
			Help: "Logical (uncompressed) bytes across the last reported summary.",
		}),
		bytesPhysical: factory.NewGauge(prometheus.GaugeOpts{
			Name: "compactd_bytes_physical_total",
			Help: "Physical (on-disk) bytes across the last reported summary.",
		}),
		compresstimatorInvocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "compactd_compresstimator_invocations_total",
			Help: "Number of times the compresstimator actually ran (not gated by store/pre-skip).",
		}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compactd_job_duration_seconds",
			Help:    "Wall-clock duration of a completed job, labelled by job kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

// ObserveScan records one walker yield landing in bin.
func (m *Metrics) ObserveScan(bin walk.Bin) {
	if m == nil {
		return
	}
	m.filesScanned.WithLabelValues(string(bin)).Inc()
}

// ObserveEstimatorInvocation records one actual compresstimator run — the
// same event the S3 test scenario counts through its own hook.
func (m *Metrics) ObserveEstimatorInvocation() {
	if m == nil {
		return
	}
	m.compresstimatorInvocations.Inc()
}

// SetBytes publishes the latest logical/physical totals.
func (m *Metrics) SetBytes(logical, physical uint64) {
	if m == nil {
		return
	}
	m.bytesLogical.Set(float64(logical))
	m.bytesPhysical.Set(float64(physical))
}

// ObserveJobDuration records job's wall-clock duration in seconds.
func (m *Metrics) ObserveJobDuration(job string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}

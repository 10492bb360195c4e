package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	violations prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration and success/failure counts,
// and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Skip records a run that exited early without doing work, such as one that
// found its lock already held.
func (t *Tracker) Skip(reason string) {
	if t == nil || t.metrics == nil || t.job == "" {
		return
	}
	t.metrics.skipped.WithLabelValues(t.job, reason).Inc()
	t.metrics.runs.WithLabelValues(t.job, "skipped").Inc()
}

// AddIntegrityViolations counts dues found breaking reconciliation.
func (m *Metrics) AddIntegrityViolations(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.violations.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_jobs_skipped_total",
		Help: "Job runs that exited without work, by reason.",
	}, []string{"job", "reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feeledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	violations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feeledger_ledger_integrity_violations_total",
		Help: "Dues whose amounts failed to reconcile during integrity scans.",
	})
	registerer.MustRegister(runs, failures, skipped, duration, violations)
	return &Metrics{runs: runs, failures: failures, skipped: skipped, duration: duration, violations: violations}
}

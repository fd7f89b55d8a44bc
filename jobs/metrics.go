package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics records how long background jobs take and how often they fail.
type RunMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRunMetrics registers the job collectors against registerer.
func NewRunMetrics(registerer prometheus.Registerer) *RunMetrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicedesk_jobs_total",
		Help: "Job executions partitioned by task type and status.",
	}, []string{"job", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicedesk_job_duration_seconds",
		Help:    "Duration in seconds of job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	registerer.MustRegister(runs, duration)
	return &RunMetrics{runs: runs, duration: duration}
}

// Tracker instruments a single job run.
type Tracker struct {
	metrics *RunMetrics
	job     string
	start   time.Time
}

// Track starts a tracker for job.
func (m *RunMetrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

func (m *RunMetrics) instrument(job string, next asynq.HandlerFunc) asynq.HandlerFunc {
	if m == nil {
		return next
	}
	return func(ctx context.Context, task *asynq.Task) error {
		return m.Track(job).End(next(ctx, task))
	}
}

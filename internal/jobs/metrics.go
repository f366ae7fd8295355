// Package jobmetrics instruments the background worker.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels a finished job run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeDropped marks runs asynq will not retry, such as undecodable payloads.
	OutcomeDropped Outcome = "dropped"
)

// Classify maps a handler error to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, asynq.SkipRetry):
		return OutcomeDropped
	default:
		return OutcomeFailure
	}
}

// Metrics holds the worker collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	negativeStock prometheus.Gauge
}

var (
	processOnce    sync.Once
	processMetrics *Metrics
)

// NewMetrics registers the collectors on reg. A nil reg shares one set on the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	processOnce.Do(func() { processMetrics = register(prometheus.DefaultRegisterer) })
	return processMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repairflow_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repairflow_jobs_failures_total",
			Help: "Job runs that ended in a retryable or dropped error.",
		}, []string{"job"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repairflow_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 30},
		}, []string{"job"}),
		negativeStock: f.NewGauge(prometheus.GaugeOpts{
			Name: "repairflow_negative_stock_rows",
			Help: "Stock rows below zero at the last scan.",
		}),
	}
}

// Run times one job execution.
type Run struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Run {
	return &Run{m: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged.
func (r *Run) End(err error) error {
	if r == nil || r.m == nil {
		return err
	}
	outcome := Classify(err)
	if outcome != OutcomeSuccess {
		r.m.failures.WithLabelValues(r.job).Inc()
	}
	r.m.runs.WithLabelValues(r.job, string(outcome)).Inc()
	r.m.duration.WithLabelValues(r.job).Observe(time.Since(r.start).Seconds())
	return err
}

// SetNegativeStock publishes the row count of the latest negative-stock scan.
func (m *Metrics) SetNegativeStock(rows int) {
	if m != nil {
		m.negativeStock.Set(float64(rows))
	}
}

// Package metrics provides Prometheus metrics for the audit pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_audit"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	// Transcription job metrics
	JobsSubmitted prometheus.Counter
	JobPolls      prometheus.Counter
	JobOutcomes   *prometheus.CounterVec
	SubmitRetries prometheus.Counter

	ModelLoads      *prometheus.CounterVec
	Classifications *prometheus.CounterVec

	PersistenceFailures prometheus.Counter
	EventPublish        *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all metrics with the default registry.
// Call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"outcome"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end duration of a pipeline run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Fatal errors by pipeline stage",
		}, []string{"stage"}),
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_jobs_submitted_total",
			Help:      "Transcription jobs accepted by the service",
		}),
		JobPolls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_polls_total",
			Help:      "Status polls issued against transcription jobs",
		}),
		JobOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_job_outcomes_total",
			Help:      "Transcription jobs by terminal outcome",
		}, []string{"outcome"}),
		SubmitRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_submit_retries_total",
			Help:      "Retried upload or submit attempts",
		}),
		ModelLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Classifier model load attempts by result",
		}, []string{"result"}),
		Classifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Calls classified by status",
		}, []string{"status"}),
		PersistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Report saves that failed",
		}),
		EventPublish: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Audit events published by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) RecordRun(outcome string, seconds float64) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(seconds)
}

func (m *Metrics) RecordStage(stage string, seconds float64, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) RecordJobOutcome(outcome string) {
	m.JobOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordModelLoad(err error) {
	if err != nil {
		m.ModelLoads.WithLabelValues("error").Inc()
		return
	}
	m.ModelLoads.WithLabelValues("ok").Inc()
}

func (m *Metrics) RecordPublish(err error) {
	if err != nil {
		m.EventPublish.WithLabelValues("error").Inc()
		return
	}
	m.EventPublish.WithLabelValues("ok").Inc()
}

// Package observability holds the Prometheus metrics shared by the API,
// ingestion, forecasting and notification jobs.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wastewatch"

// Metrics holds the Prometheus counters and histograms for wastewatch.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec   // labels: route, method, status
	HTTPDuration *prometheus.HistogramVec // labels: route

	IngestRows     *prometheus.CounterVec // labels: source
	IngestFailures *prometheus.CounterVec // labels: source

	ForecastsWritten prometheus.Counter
	Alerts           *prometheus.CounterVec // labels: tier
	Emails           *prometheus.CounterVec // labels: outcome={sent,failed,dry_run}

	JobRuns *prometheus.CounterVec // labels: job, outcome={success,error}
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
		IngestRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_total",
			Help:      "Rows written by ingestion, by source.",
		}, []string{"source"}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Failed ingestion steps, by source.",
		}, []string{"source"}),
		ForecastsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_written_total",
			Help:      "Forecast records written by training or import.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert decisions by tier.",
		}, []string{"tier"}),
		Emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Alert emails by outcome.",
		}, []string{"outcome"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and outcome.",
		}, []string{"job", "outcome"}),
	}
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := newMetrics()
	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.IngestRows,
		m.IngestFailures,
		m.ForecastsWritten,
		m.Alerts,
		m.Emails,
		m.JobRuns,
	)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to
// avoid "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// IngestSucceeded records rows written by one ingestion step.
func (m *Metrics) IngestSucceeded(source string, rows int64) {
	if m == nil {
		return
	}
	m.IngestRows.WithLabelValues(source).Add(float64(rows))
}

// IngestFailed records one failed ingestion step.
func (m *Metrics) IngestFailed(source string) {
	if m == nil {
		return
	}
	m.IngestFailures.WithLabelValues(source).Inc()
}

// ForecastsStored records forecast records written.
func (m *Metrics) ForecastsStored(n int) {
	if m == nil {
		return
	}
	m.ForecastsWritten.Add(float64(n))
}

// AlertRaised records one alert decision.
func (m *Metrics) AlertRaised(tier string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(tier).Inc()
}

// EmailOutcome records one email delivery attempt.
func (m *Metrics) EmailOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Emails.WithLabelValues(outcome).Inc()
}

// JobFinished records one scheduled job execution.
func (m *Metrics) JobFinished(job string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
}

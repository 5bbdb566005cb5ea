package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the emission capability supplied to components. Counter and
// gauge access must be cheap and non-blocking.
type Metrics interface {
	IncCounter(name string, labels map[string]string, n float64)
	SetGauge(name string, v float64)
	ObserveHistogram(name string, v float64)
}

// Registry holds the Prometheus collectors for the forecast core and
// implements Metrics over them.
type Registry struct {
	ForecastRuns     *prometheus.CounterVec
	ForecastApproved *prometheus.CounterVec
	ForecastRejected *prometheus.CounterVec
	FeedbackIngested prometheus.Counter
	DriftTriggers    *prometheus.CounterVec
	RetrainsApplied  prometheus.Counter
	AuditAlerts      *prometheus.CounterVec
	PollerLag        prometheus.Gauge
	HealthScore      prometheus.Gauge
	RunDuration      prometheus.Histogram
	AuditDuration    prometheus.Histogram

	reg *prometheus.Registry
}

// NewRegistry creates and registers all forecast-core metrics.
func NewRegistry() *Registry {
	r := &Registry{
		ForecastRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_forecast_runs_total",
				Help: "Total forecast runs by terminal status",
			},
			[]string{"status"},
		),
		ForecastApproved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_forecast_approved_total",
				Help: "Approved forecast runs, labeled by item count bucket",
			},
			[]string{"items"},
		),
		ForecastRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_forecast_rejected_total",
				Help: "Rejected forecast runs by reason code",
			},
			[]string{"reason"},
		),
		FeedbackIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stockcast_feedback_ingested_total",
				Help: "Feedback entries consumed by the stream poller",
			},
		),
		DriftTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_drift_triggers_total",
				Help: "Drift detections that passed the cool-down gate",
			},
			[]string{"item"},
		),
		RetrainsApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stockcast_retrains_applied_total",
				Help: "Weight-adjustment batches applied by the governor",
			},
		),
		AuditAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_audit_alerts_total",
				Help: "Health audit alerts by severity",
			},
			[]string{"severity"},
		),
		PollerLag: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockcast_feedback_poller_lag",
				Help: "Feedback rows behind the stream head at last poll",
			},
		),
		HealthScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockcast_health_score",
				Help: "Most recent audit health score (0-100)",
			},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockcast_forecast_run_duration_seconds",
				Help:    "Wall time of forecast runs",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		AuditDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockcast_audit_duration_seconds",
				Help:    "Wall time of health audits",
				Buckets: []float64{0.5, 1, 5, 15, 60, 300, 600},
			},
		),
		reg: prometheus.NewRegistry(),
	}

	r.reg.MustRegister(
		r.ForecastRuns, r.ForecastApproved, r.ForecastRejected,
		r.FeedbackIngested, r.DriftTriggers, r.RetrainsApplied,
		r.AuditAlerts, r.PollerLag, r.HealthScore,
		r.RunDuration, r.AuditDuration,
	)
	return r
}

// Gatherer exposes the underlying registry for scrape wiring.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// IncCounter routes a named counter increment to the typed collector.
func (r *Registry) IncCounter(name string, labels map[string]string, n float64) {
	switch name {
	case "forecast_runs":
		r.ForecastRuns.With(labels).Add(n)
	case "forecast_approved":
		r.ForecastApproved.With(labels).Add(n)
	case "forecast_rejected":
		r.ForecastRejected.With(labels).Add(n)
	case "feedback_ingested":
		r.FeedbackIngested.Add(n)
	case "drift_triggers":
		r.DriftTriggers.With(labels).Add(n)
	case "retrains_applied":
		r.RetrainsApplied.Add(n)
	case "audit_alerts":
		r.AuditAlerts.With(labels).Add(n)
	}
}

// SetGauge routes a named gauge set to the typed collector.
func (r *Registry) SetGauge(name string, v float64) {
	switch name {
	case "poller_lag":
		r.PollerLag.Set(v)
	case "health_score":
		r.HealthScore.Set(v)
	}
}

// ObserveHistogram routes a named observation to the typed collector.
func (r *Registry) ObserveHistogram(name string, v float64) {
	switch name {
	case "run_duration_seconds":
		r.RunDuration.Observe(v)
	case "audit_duration_seconds":
		r.AuditDuration.Observe(v)
	}
}

// Nop is a Metrics implementation that discards everything. Used in tests
// and when telemetry is disabled.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64) {}
func (Nop) SetGauge(string, float64)                      {}
func (Nop) ObserveHistogram(string, float64)              {}

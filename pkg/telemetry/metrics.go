package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the compiler's Prometheus collectors in a private registry.
// A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	buildsTotal      *prometheus.CounterVec
	buildDuration    *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	sourcesEvaluated *prometheus.CounterVec
	diagnostics      *prometheus.CounterVec
	irfBytes         prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors for cfg.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		buildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of builds by outcome",
			},
			[]string{"outcome"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of whole builds in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		sourcesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sources_evaluated_total",
				Help:      "Configuration sources evaluated by format and outcome",
			},
			[]string{"format", "outcome"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostics_total",
				Help:      "Diagnostics reported by stage and severity",
			},
			[]string{"stage", "severity"},
		),
		irfBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "irf_size_bytes",
				Help:      "Size of the last IRF written",
			},
		),
	}

	m.registry.MustRegister(
		m.buildsTotal,
		m.buildDuration,
		m.stageDuration,
		m.sourcesEvaluated,
		m.diagnostics,
		m.irfBytes,
	)

	return m, nil
}

// Enabled reports whether metrics are collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordBuild records a finished build.
func (m *Metrics) RecordBuild(outcome string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.buildsTotal.WithLabelValues(outcome).Inc()
	m.buildDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordSource records the evaluation of one source.
func (m *Metrics) RecordSource(format, outcome string) {
	if !m.Enabled() {
		return
	}
	m.sourcesEvaluated.WithLabelValues(format, outcome).Inc()
}

// RecordDiagnostics adds n diagnostics of a stage and severity.
func (m *Metrics) RecordDiagnostics(stage, severity string, n int) {
	if !m.Enabled() || n == 0 {
		return
	}
	m.diagnostics.WithLabelValues(stage, severity).Add(float64(n))
}

// SetIRFSize records the size of the written IRF.
func (m *Metrics) SetIRFSize(n int) {
	if !m.Enabled() {
		return
	}
	m.irfBytes.Set(float64(n))
}

// Gatherer returns the registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// WriteTextfile writes every metric to path in the text exposition format.
// It is a no-op when metrics are disabled or no textfile is configured.
func (m *Metrics) WriteTextfile() error {
	if !m.Enabled() || m.config.Textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.Textfile, m.registry)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

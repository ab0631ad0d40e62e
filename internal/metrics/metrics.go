// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	FilesTotal       *prometheus.CounterVec
	StageFailures    *prometheus.CounterVec
	PacketsTotal     *prometheus.CounterVec
	MaliciousRecords prometheus.Counter
	ClassifiedRows   *prometheus.CounterVec
	AlertsTotal      prometheus.Counter
	SinkErrors       *prometheus.CounterVec
	MonitorPasses    *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	StageDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_files_total",
			Help: "Files handled by pipeline stage and result",
		}, []string{"stage", "result"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_stage_failures_total",
			Help: "Stage failures by stage and error kind",
		}, []string{"stage", "kind"}),
		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_packets_total",
			Help: "Packets read from captures, processed or excluded",
		}, []string{"outcome"}),
		MaliciousRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_malicious_records_total",
			Help: "Records classified as malicious",
		}),
		ClassifiedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_classified_rows_total",
			Help: "Rows classified by label",
		}, []string{"label"}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gons_alerts_total",
			Help: "Attack events raised by the rate monitor",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_alert_sink_errors_total",
			Help: "Alert delivery failures by sink",
		}, []string{"sink"}),
		MonitorPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gons_monitor_passes_total",
			Help: "Rate monitor passes by result",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gons_queue_depth",
			Help: "Jobs waiting for a pipeline worker",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gons_stage_duration_seconds",
			Help:    "Time spent per file in each stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FilesTotal,
		m.StageFailures,
		m.PacketsTotal,
		m.MaliciousRecords,
		m.ClassifiedRows,
		m.AlertsTotal,
		m.SinkErrors,
		m.MonitorPasses,
		m.QueueDepth,
		m.StageDuration,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FileDone records a file that finished a stage.
func (m *Metrics) FileDone(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(stage, "ok").Inc()
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// FileFailed records a stage failure with its error kind.
func (m *Metrics) FileFailed(stage, kind string) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(stage, "error").Inc()
	m.StageFailures.WithLabelValues(stage, kind).Inc()
}

// Packets records the outcome of one extraction.
func (m *Metrics) Packets(processed, excluded int) {
	if m == nil {
		return
	}
	m.PacketsTotal.WithLabelValues("processed").Add(float64(processed))
	m.PacketsTotal.WithLabelValues("excluded").Add(float64(excluded))
}

// Classified records the labels of one classified table.
func (m *Metrics) Classified(benign, malicious int) {
	if m == nil {
		return
	}
	m.ClassifiedRows.WithLabelValues("benign").Add(float64(benign))
	m.ClassifiedRows.WithLabelValues("malicious").Add(float64(malicious))
	m.MaliciousRecords.Add(float64(malicious))
}

// Alerts records raised attack events.
func (m *Metrics) Alerts(n int) {
	if m == nil {
		return
	}
	m.AlertsTotal.Add(float64(n))
}

// SinkFailed records a failed alert delivery.
func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// MonitorPass records the result of one rate monitor pass.
func (m *Metrics) MonitorPass(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.MonitorPasses.WithLabelValues(result).Inc()
}

// SetQueueDepth reports the number of queued jobs.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

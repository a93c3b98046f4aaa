// Package metrics exposes Prometheus collectors for extension discovery and
// loading.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vvf"

// Metrics holds the extension runtime collectors.
type Metrics struct {
	registry *prometheus.Registry

	scans        *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	snapshotSize *prometheus.GaugeVec
	loads        *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	active       *prometheus.GaugeVec
	processes    prometheus.Gauge
}

var (
	globalOnce sync.Once
	global     *Metrics
)

// Global returns the process wide collectors.
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "scans_total",
			Help:      "Repository scans, labeled by kind, origin and result",
		}, []string{"kind", "origin", "result"}),
		scanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "scan_duration_seconds",
			Help:      "Duration of repository scans",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "origin"}),
		snapshotSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "handles",
			Help:      "Handles in the latest published snapshot",
		}, []string{"kind", "origin"}),
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "constructions_total",
			Help:      "Capability constructions, labeled by kind, origin and result",
		}, []string{"kind", "origin", "result"}),
		loadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "construction_duration_seconds",
			Help:      "Duration of capability constructions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "origin"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "errors_total",
			Help:      "Extension errors, labeled by kind and error kind",
		}, []string{"kind", "error_kind"}),
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "active_extensions",
			Help:      "Extensions in the latest published view",
		}, []string{"kind"}),
		processes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "running",
			Help:      "Extension subprocesses currently running",
		}),
	}
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordScan counts one finished scan.
func (m *Metrics) RecordScan(kind, origin, result string, took time.Duration, handles int) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(kind, origin, result).Inc()
	m.scanDuration.WithLabelValues(kind, origin).Observe(took.Seconds())
	if result != "abandoned" {
		m.snapshotSize.WithLabelValues(kind, origin).Set(float64(handles))
	}
}

// RecordLoad counts one settled capability construction.
func (m *Metrics) RecordLoad(kind, origin string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.loads.WithLabelValues(kind, origin, result).Inc()
	m.loadDuration.WithLabelValues(kind, origin).Observe(took.Seconds())
}

// RecordError counts one reported extension error.
func (m *Metrics) RecordError(kind, errorKind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind, errorKind).Inc()
}

// SetActive records the size of a published view.
func (m *Metrics) SetActive(kind string, n int) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(kind).Set(float64(n))
}

// ProcessStarted and ProcessExited track extension subprocesses.
func (m *Metrics) ProcessStarted() {
	if m != nil {
		m.processes.Inc()
	}
}

func (m *Metrics) ProcessExited() {
	if m != nil {
		m.processes.Dec()
	}
}

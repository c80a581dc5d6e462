package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture loop
	Ticks    atomic.Uint64
	Captures atomic.Uint64

	// Detection
	DetectionBusy atomic.Uint64 // 0 = idle, 1 = running

	// Viewers
	ActiveViewers atomic.Uint64

	framesRead       *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	deviceFailures   *prometheus.CounterVec
	stillWrites      *prometheus.CounterVec
	stillWriteErrors *prometheus.CounterVec
	detectionRuns    *prometheus.CounterVec
	detectionLatency prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_capture_ticks_total",
			Help: "Total capture loop ticks",
		},
		func() float64 { return float64(m.Ticks.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_captures_total",
			Help: "Total capture events handled",
		},
		func() float64 { return float64(m.Captures.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_detection_busy",
			Help: "Whether a detection run is in progress (0/1)",
		},
		func() float64 { return float64(m.DetectionBusy.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_preview_viewers",
			Help: "Connected preview viewers",
		},
		func() float64 { return float64(m.ActiveViewers.Load()) },
	))

	m.framesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_frames_read_total",
		Help: "Frames read per camera role",
	}, []string{"role"})
	m.framesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_frames_dropped_total",
		Help: "Ticks skipped per camera role because no frame was available",
	}, []string{"role"})
	m.deviceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_device_failures_total",
		Help: "Cameras lost during a session",
	}, []string{"role"})
	m.stillWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_still_writes_total",
		Help: "Successful still slot writes",
	}, []string{"role"})
	m.stillWriteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_still_write_errors_total",
		Help: "Failed still slot writes",
	}, []string{"role"})
	m.detectionRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_detection_runs_total",
		Help: "Detection invocations by role and outcome",
	}, []string{"role", "status"})
	m.detectionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dashboard_detection_duration_seconds",
		Help:    "Wall time of external detection processes",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	m.registry.MustRegister(
		m.framesRead,
		m.framesDropped,
		m.deviceFailures,
		m.stillWrites,
		m.stillWriteErrors,
		m.detectionRuns,
		m.detectionLatency,
	)
}

func (m *Metrics) IncTicks() {
	if m == nil {
		return
	}
	m.Ticks.Add(1)
}

func (m *Metrics) IncCaptures() {
	if m == nil {
		return
	}
	m.Captures.Add(1)
}

func (m *Metrics) IncFramesRead(role string) {
	if m == nil {
		return
	}
	m.framesRead.WithLabelValues(role).Inc()
}

func (m *Metrics) IncFramesDropped(role string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(role).Inc()
}

func (m *Metrics) IncDeviceFailures(role string) {
	if m == nil {
		return
	}
	m.deviceFailures.WithLabelValues(role).Inc()
}

func (m *Metrics) IncStillWrites(role string) {
	if m == nil {
		return
	}
	m.stillWrites.WithLabelValues(role).Inc()
}

func (m *Metrics) IncStillWriteErrors(role string) {
	if m == nil {
		return
	}
	m.stillWriteErrors.WithLabelValues(role).Inc()
}

// ObserveDetection records one detection run.
func (m *Metrics) ObserveDetection(role, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.detectionRuns.WithLabelValues(role, status).Inc()
	m.detectionLatency.Observe(duration.Seconds())
}

// SetDetectionBusy flags whether a detection run is in progress.
func (m *Metrics) SetDetectionBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.DetectionBusy.Store(1)
	} else {
		m.DetectionBusy.Store(0)
	}
}

// SetViewers records the number of connected preview viewers.
func (m *Metrics) SetViewers(n int) {
	if m == nil {
		return
	}
	m.ActiveViewers.Store(uint64(n))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

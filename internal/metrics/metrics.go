package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Build metrics
	LessonBuildsTotal   *prometheus.CounterVec
	LessonBuildDuration *prometheus.HistogramVec
	LessonExportBytes   prometheus.Histogram
	LessonBuildSegments prometheus.Histogram

	// Admin operation metrics
	ReordersTotal    *prometheus.CounterVec
	ClipUploadsTotal *prometheus.CounterVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Stream metrics
	StreamBytesTotal prometheus.Counter

	// Health metrics
	HealthStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance registered on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Build metrics
		LessonBuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessoncast_lesson_builds_total",
				Help: "Total number of lesson builds by result",
			},
			[]string{"result"},
		),
		LessonBuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lessoncast_lesson_build_duration_seconds",
				Help:    "Duration of lesson builds in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"result"},
		),
		LessonExportBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lessoncast_lesson_export_bytes",
				Help:    "Size of exported lesson audio",
				Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
			},
		),
		LessonBuildSegments: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lessoncast_lesson_build_segments",
				Help:    "Number of clips mixed into a lesson export",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),

		// Admin operation metrics
		ReordersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessoncast_line_reorders_total",
				Help: "Total number of line reorder requests by result",
			},
			[]string{"result"},
		),
		ClipUploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessoncast_clip_uploads_total",
				Help: "Total number of line clip uploads by format and result",
			},
			[]string{"format", "result"},
		),

		// Request metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessoncast_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lessoncast_http_request_duration_seconds",
				Help:    "Histogram of request durations by method, route, and status",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),

		// Stream metrics
		StreamBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lessoncast_stream_bytes_total",
				Help: "Total number of audio bytes served",
			},
		),

		// Health metrics
		HealthStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lessoncast_health_status",
				Help: "Health status of dependencies (1=ok, 0=down)",
			},
			[]string{"dependency"},
		),
	}
}

// InitializeMetrics registers metrics on reg and sets default values
func InitializeMetrics(reg prometheus.Registerer) *Metrics {
	m := NewMetrics(reg)

	m.HealthStatus.WithLabelValues("db").Set(0)
	m.HealthStatus.WithLabelValues("redis").Set(0)

	return m
}

// ObserveBuild records the outcome of one lesson build
func (m *Metrics) ObserveBuild(result string, d time.Duration, segments int, bytes int) {
	if m == nil {
		return
	}
	m.LessonBuildsTotal.WithLabelValues(result).Inc()
	m.LessonBuildDuration.WithLabelValues(result).Observe(d.Seconds())
	if bytes > 0 {
		m.LessonExportBytes.Observe(float64(bytes))
		m.LessonBuildSegments.Observe(float64(segments))
	}
}

func (m *Metrics) ObserveReorder(result string) {
	if m == nil {
		return
	}
	m.ReordersTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveClipUpload(format, result string) {
	if m == nil {
		return
	}
	m.ClipUploadsTotal.WithLabelValues(format, result).Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

func (m *Metrics) AddStreamBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamBytesTotal.Add(float64(n))
}

// SetHealth sets a dependency gauge to 1 when ok and 0 otherwise
func (m *Metrics) SetHealth(dependency string, ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.HealthStatus.WithLabelValues(dependency).Set(v)
}

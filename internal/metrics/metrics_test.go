package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitializeMetrics(reg)

	m.ObserveBuild("success", 2*time.Second, 3, 50000)
	m.ObserveBuild("corrupt_clip", time.Millisecond, 0, 0)
	m.ObserveReorder("success")
	m.ObserveClipUpload("wav", "success")
	m.SetHealth("db", true)
	m.AddStreamBytes(1024)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LessonBuildsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LessonBuildsTotal.WithLabelValues("corrupt_clip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReordersTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClipUploadsTotal.WithLabelValues("wav", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthStatus.WithLabelValues("db")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HealthStatus.WithLabelValues("redis")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.StreamBytesTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBuild("success", time.Second, 1, 1)
		m.ObserveReorder("success")
		m.ObserveClipUpload("wav", "success")
		m.ObserveRequest("GET", "/", "200", time.Millisecond)
		m.AddStreamBytes(10)
		m.SetHealth("db", true)
	})
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

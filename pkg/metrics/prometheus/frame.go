package prometheus

import (
	"time"

	"github.com/marmos91/dittocore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// frameMetrics is the Prometheus implementation of metrics.FrameMetrics.
type frameMetrics struct {
	faults        *prometheus.CounterVec
	faultDuration *prometheus.HistogramVec
	evictions     *prometheus.CounterVec
	resident      prometheus.Gauge
	pinned        prometheus.Gauge
}

// NewFrameMetrics creates a new Prometheus-backed FrameMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewFrameMetrics() metrics.FrameMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFrameMetrics()
	}

	reg := metrics.GetRegistry()

	return &frameMetrics{
		faults: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocore_page_faults_total",
				Help: "Page faults by backing kind and status",
			},
			[]string{"kind", "status"},
		),
		faultDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittocore_page_fault_duration_seconds",
				Help: "Time to resolve a page fault in seconds",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
				},
			},
			[]string{"kind"},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocore_frame_evictions_total",
				Help: "Frames evicted by backing kind and writeback target",
			},
			[]string{"kind", "writeback"},
		),
		resident: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittocore_frames_resident",
				Help: "Frames currently held by the frame cache",
			},
		),
		pinned: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittocore_frames_pinned",
				Help: "Frames currently pinned against eviction",
			},
		),
	}
}

func (m *frameMetrics) RecordFault(kind string, duration time.Duration, err error) {
	m.faults.WithLabelValues(kind, status(err)).Inc()
	m.faultDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *frameMetrics) RecordEviction(kind string, writeback string) {
	m.evictions.WithLabelValues(kind, writeback).Inc()
}

func (m *frameMetrics) SetResident(count int) {
	m.resident.Set(float64(count))
}

func (m *frameMetrics) SetPinned(count int) {
	m.pinned.Set(float64(count))
}

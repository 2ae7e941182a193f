package prometheus

import (
	"time"

	"github.com/marmos91/dittocore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// swapMetrics is the Prometheus implementation of metrics.SwapMetrics.
type swapMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	slots      *prometheus.GaugeVec
}

// NewSwapMetrics creates a new Prometheus-backed SwapMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewSwapMetrics() metrics.SwapMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopSwapMetrics()
	}

	reg := metrics.GetRegistry()

	return &swapMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittocore_swap_operations_total",
				Help: "Swap page transfers by direction and status",
			},
			[]string{"direction", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittocore_swap_duration_seconds",
				Help:    "Duration of swap page transfers in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 10, 6),
			},
			[]string{"direction"},
		),
		slots: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittocore_swap_slots",
				Help: "Swap slots by state (used or total)",
			},
			[]string{"state"},
		),
	}
}

func (m *swapMetrics) RecordSwapOut(duration time.Duration, err error) {
	m.operations.WithLabelValues("out", status(err)).Inc()
	m.duration.WithLabelValues("out").Observe(duration.Seconds())
}

func (m *swapMetrics) RecordSwapIn(duration time.Duration, err error) {
	m.operations.WithLabelValues("in", status(err)).Inc()
	m.duration.WithLabelValues("in").Observe(duration.Seconds())
}

func (m *swapMetrics) SetSlots(used, total int) {
	m.slots.WithLabelValues("used").Set(float64(used))
	m.slots.WithLabelValues("total").Set(float64(total))
}

package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes used as the "result" label on modeld_cycles_total.
const (
	CycleNoFrame     = "no_frame"
	CyclePrepareOnly = "prepare_only"
	CyclePublished   = "published"
)

// Metrics holds the daemon's prometheus collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	Cycles         *prometheus.CounterVec
	FramesDropped  prometheus.Counter
	FramesDesynced prometheus.Counter
	DropRatio      prometheus.Gauge
	ExecSeconds    prometheus.Histogram
	LogBacklogDrop prometheus.Counter
}

// NewMetrics registers the daemon collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		Cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modeld_cycles_total",
				Help: "Model cycles by outcome",
			},
			[]string{"result"},
		),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "modeld_frames_dropped_total",
			Help: "Camera frames missed between consecutive cycles",
		}),
		FramesDesynced: f.NewCounter(prometheus.CounterOpts{
			Name: "modeld_frames_out_of_sync_total",
			Help: "Frame pairs whose start-of-frame delta exceeded the sync tolerance",
		}),
		DropRatio: f.NewGauge(prometheus.GaugeOpts{
			Name: "modeld_frame_drop_ratio",
			Help: "Smoothed frame drop ratio in [0,1)",
		}),
		ExecSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "modeld_execution_seconds",
			Help:    "Model engine execution time",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		LogBacklogDrop: f.NewCounter(prometheus.CounterOpts{
			Name: "modeld_cycle_log_dropped_total",
			Help: "Cycle records dropped because the log writer was backlogged",
		}),
	}
}

// ObserveCycle records one cycle outcome.
func (m *Metrics) ObserveCycle(result string, rawDropped int, dropRatio float64, exec time.Duration, outOfSync bool) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	if result == CycleNoFrame {
		return
	}
	if rawDropped > 0 {
		m.FramesDropped.Add(float64(rawDropped))
	}
	if outOfSync {
		m.FramesDesynced.Inc()
	}
	m.DropRatio.Set(dropRatio)
	if result == CyclePublished {
		m.ExecSeconds.Observe(exec.Seconds())
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters. Hot-path updates are plain atomics;
// Prometheus reads them lazily through GaugeFuncs on scrape.
type Metrics struct {
	FramesProcessed    atomic.Uint64
	Detections         atomic.Uint64
	LostFrames         atomic.Uint64
	SessionsStarted    atomic.Uint64
	SessionsCompleted  atomic.Uint64
	SessionsCancelled  atomic.Uint64
	SessionsFailed     atomic.Uint64
	CollaboratorErrors atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"tracking_frames_processed_total", "Total frames run through a detector", m.FramesProcessed.Load},
		{"tracking_detections_total", "Frames with a detected position", m.Detections.Load},
		{"tracking_lost_frames_total", "Frames where no qualifying position was found", m.LostFrames.Load},
		{"tracking_sessions_started_total", "Tracking runs started", m.SessionsStarted.Load},
		{"tracking_sessions_completed_total", "Tracking runs completed", m.SessionsCompleted.Load},
		{"tracking_sessions_cancelled_total", "Tracking runs cancelled by the user", m.SessionsCancelled.Load},
		{"tracking_sessions_failed_total", "Tracking runs aborted by an error", m.SessionsFailed.Load},
		{"tracking_collaborator_errors_total", "Frame source or model service failures", m.CollaboratorErrors.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns the HTTP handler serving the Prometheus exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

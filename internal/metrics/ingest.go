package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest holds the backend counters.
type Ingest struct {
	Batches     *prometheus.CounterVec // by codec
	Poses       prometheus.Counter
	Frames      prometheus.Counter
	FrameBytes  prometheus.Counter
	ClipsClosed prometheus.Counter
	Rejected    *prometheus.CounterVec // by reason

	registry *prometheus.Registry
}

// NewIngest creates the backend metrics on a private registry.
func NewIngest() *Ingest {
	m := &Ingest{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_batches_total",
			Help: "Batches accepted",
		}, []string{"codec"}),
		Poses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_poses_total",
			Help: "Poses stored",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_frames_total",
			Help: "Frames written to disk",
		}),
		FrameBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_frame_bytes_total",
			Help: "Frame bytes written to disk",
		}),
		ClipsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_clips_finished_total",
			Help: "Clips marked finished",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rejected_total",
			Help: "Uploads rejected",
		}, []string{"reason"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Batches, m.Poses, m.Frames, m.FrameBytes, m.ClipsClosed, m.Rejected)
	return m
}

// Handler returns the Prometheus HTTP handler
func (m *Ingest) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

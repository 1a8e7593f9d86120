package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the capture pipeline counters
type Metrics struct {
	// Frame processing counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesNoPose    atomic.Uint64 // inference returned no detection
	FramesMalformed atomic.Uint64
	InferenceErrors atomic.Uint64
	ReadErrors      atomic.Uint64

	// Batch / upload counters
	BatchesFlushed   atomic.Uint64
	BatchesDropped   atomic.Uint64 // dispatch queue full
	UploadsSucceeded atomic.Uint64
	UploadsFailed    atomic.Uint64
	UploadsDropped   atomic.Uint64 // dropped because max in-flight reached
	UploadsInFlight  atomic.Int64
	UploadBytes      atomic.Uint64

	// Session state
	SessionState     atomic.Uint64 // session.State value
	ElapsedSeconds   atomic.Uint64
	CurrentFPS       atomic.Uint64
	ProcessLatencyMs atomic.Uint64

	uploadLatency prometheus.Histogram
	registry      *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pose_upload_duration_seconds",
			Help:    "Batch upload round-trip time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) }))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("pose_frames_read_total", "Frames pulled from the frame source", &m.FramesRead)
	m.counter("pose_frames_processed_total", "Frames accumulated into a batch", &m.FramesProcessed)
	m.counter("pose_frames_no_pose_total", "Frames with no detected pose", &m.FramesNoPose)
	m.counter("pose_frames_malformed_total", "Frames dropped by the encoder", &m.FramesMalformed)
	m.counter("pose_inference_errors_total", "Inference calls that failed", &m.InferenceErrors)
	m.counter("pose_read_errors_total", "Frame source read errors", &m.ReadErrors)

	m.counter("pose_batches_flushed_total", "Batches handed to the uploader", &m.BatchesFlushed)
	m.counter("pose_batches_dropped_total", "Batches dropped because the dispatch queue was full", &m.BatchesDropped)
	m.counter("pose_uploads_succeeded_total", "Batch uploads acknowledged by the backend", &m.UploadsSucceeded)
	m.counter("pose_uploads_failed_total", "Batch uploads that failed", &m.UploadsFailed)
	m.counter("pose_uploads_dropped_total", "Batches dropped because too many uploads were in flight", &m.UploadsDropped)
	m.counter("pose_upload_bytes_total", "Payload bytes sent", &m.UploadBytes)
	m.gauge("pose_uploads_in_flight", "Uploads currently in flight",
		func() float64 { return float64(m.UploadsInFlight.Load()) })

	m.gauge("pose_session_state", "Session state (0=idle, 1=preparing, 2=active, 3=stopping)",
		func() float64 { return float64(m.SessionState.Load()) })
	m.gauge("pose_session_elapsed_seconds", "Elapsed seconds of the active session",
		func() float64 { return float64(m.ElapsedSeconds.Load()) })
	m.gauge("pose_frame_rate", "Instantaneous processed frames per second",
		func() float64 { return float64(m.CurrentFPS.Load()) })
	m.gauge("pose_process_latency_ms", "Latency of the last frame iteration in milliseconds",
		func() float64 { return float64(m.ProcessLatencyMs.Load()) })

	m.registry.MustRegister(m.uploadLatency)
}

// ObserveUpload records one upload round trip.
func (m *Metrics) ObserveUpload(d time.Duration) {
	m.uploadLatency.Observe(d.Seconds())
}

// UpdateProcessLatency stores the latency of the last frame iteration
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartServer serves /metrics on addr until the server fails
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

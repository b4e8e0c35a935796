package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Frame admission
	FramesReceived atomic.Uint64
	FramesAdmitted atomic.Uint64
	FramesDropped  atomic.Uint64 // Rejected while a run was in flight
	FramesFailed   atomic.Uint64 // Admitted but not classified
	InFlight       atomic.Uint64 // 0 = idle, 1 = running

	// Results
	ResultsDelivered atomic.Uint64
	ResultsStale     atomic.Uint64

	// Preview hand-off
	PreviewFrames  atomic.Uint64
	PreviewDropped atomic.Uint64

	// Buffer pool
	PlaneReallocs atomic.Uint64

	// Source
	SourceErrors atomic.Uint64

	// Stage latency (last run)
	ConvertLatencyMs    atomic.Uint64
	PreprocessLatencyMs atomic.Uint64
	InferenceLatencyMs  atomic.Uint64
	TotalLatencyMs      atomic.Uint64
	FrameAgeMs          atomic.Uint64 // Capture to result

	// Recorder
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecorderRows    atomic.Uint64
	RecorderDropped atomic.Uint64
	RecorderErrors  atomic.Uint64

	// Web clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Prometheus collectors
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

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "lesion",
			Name:      name,
			Help:      help,
		},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("frames_received_total", "Total frames offered by the source", &m.FramesReceived)
	m.gauge("frames_admitted_total", "Total frames accepted for classification", &m.FramesAdmitted)
	m.gauge("frames_dropped_total", "Total frames dropped while a run was in flight", &m.FramesDropped)
	m.gauge("frames_failed_total", "Total admitted frames that failed a stage", &m.FramesFailed)
	m.gauge("pipeline_in_flight", "Pipeline run in flight (0=idle, 1=running)", &m.InFlight)

	m.gauge("results_delivered_total", "Total classifications delivered to the sink", &m.ResultsDelivered)
	m.gauge("results_stale_total", "Total classifications discarded as stale", &m.ResultsStale)

	m.gauge("preview_frames_total", "Total preview bitmaps published", &m.PreviewFrames)
	m.gauge("preview_dropped_total", "Total preview bitmaps overwritten before display", &m.PreviewDropped)

	m.gauge("plane_reallocations_total", "Total plane buffer reallocations", &m.PlaneReallocs)
	m.gauge("source_errors_total", "Total frame source errors", &m.SourceErrors)

	m.gauge("convert_latency_ms", "YUV to ARGB conversion latency in milliseconds", &m.ConvertLatencyMs)
	m.gauge("preprocess_latency_ms", "Preprocessing latency in milliseconds", &m.PreprocessLatencyMs)
	m.gauge("inference_latency_ms", "Classifier latency in milliseconds", &m.InferenceLatencyMs)
	m.gauge("total_latency_ms", "Whole pipeline run latency in milliseconds", &m.TotalLatencyMs)
	m.gauge("frame_age_ms", "Capture to result latency in milliseconds", &m.FrameAgeMs)

	m.gauge("recording_active", "Recording active (0=inactive, 1=active)", &m.RecordingActive)
	m.gauge("recorder_rows_total", "Total classification rows written", &m.RecorderRows)
	m.gauge("recorder_dropped_total", "Total classifications the recorder could not queue", &m.RecorderDropped)
	m.gauge("recorder_errors_total", "Total recorder write errors", &m.RecorderErrors)

	m.gauge("active_clients", "Number of connected web clients", &m.ActiveClients)
	m.gauge("total_clients", "Total web clients connected", &m.TotalClients)
}

// Stage identifies a timed pipeline stage
type Stage int

const (
	StageConvert Stage = iota
	StagePreprocess
	StageInference
	StageTotal
)

// ObserveStage records the latency of the last run of a stage.
func (m *Metrics) ObserveStage(s Stage, d time.Duration) {
	ms := uint64(d.Milliseconds())
	switch s {
	case StageConvert:
		m.ConvertLatencyMs.Store(ms)
	case StagePreprocess:
		m.PreprocessLatencyMs.Store(ms)
	case StageInference:
		m.InferenceLatencyMs.Store(ms)
	case StageTotal:
		m.TotalLatencyMs.Store(ms)
	}
}

// UpdateFrameAge records the capture to result latency
func (m *Metrics) UpdateFrameAge(captureTime time.Time) {
	if captureTime.IsZero() {
		return
	}
	m.FrameAgeMs.Store(uint64(time.Since(captureTime).Milliseconds()))
}

// SetFlag stores a boolean gauge.
func SetFlag(v *atomic.Uint64, on bool) {
	if on {
		v.Store(1)
	} else {
		v.Store(0)
	}
}

// Snapshot is a point-in-time copy of the counters, used by /api/status.
type Snapshot struct {
	FramesReceived   uint64 `json:"frames_received"`
	FramesAdmitted   uint64 `json:"frames_admitted"`
	FramesDropped    uint64 `json:"frames_dropped"`
	FramesFailed     uint64 `json:"frames_failed"`
	ResultsDelivered uint64 `json:"results_delivered"`
	ResultsStale     uint64 `json:"results_stale"`
	PreviewFrames    uint64 `json:"preview_frames"`
	PlaneReallocs    uint64 `json:"plane_reallocations"`
	InferenceMs      uint64 `json:"inference_latency_ms"`
	TotalMs          uint64 `json:"total_latency_ms"`
	RecorderRows     uint64 `json:"recorder_rows"`
	ActiveClients    uint64 `json:"active_clients"`
}

// Snapshot copies the counters
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesReceived:   m.FramesReceived.Load(),
		FramesAdmitted:   m.FramesAdmitted.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		FramesFailed:     m.FramesFailed.Load(),
		ResultsDelivered: m.ResultsDelivered.Load(),
		ResultsStale:     m.ResultsStale.Load(),
		PreviewFrames:    m.PreviewFrames.Load(),
		PlaneReallocs:    m.PlaneReallocs.Load(),
		InferenceMs:      m.InferenceLatencyMs.Load(),
		TotalMs:          m.TotalLatencyMs.Load(),
		RecorderRows:     m.RecorderRows.Load(),
		ActiveClients:    m.ActiveClients.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests and custom exporters
func (m *Metrics) Gather() (int, error) {
	families, err := m.registry.Gather()
	return len(families), err
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

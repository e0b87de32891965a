package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the kiri voice engine
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Segment metrics
	SegmentsFinalized     prometheus.Counter
	PartialsEmitted       prometheus.Counter
	HallucinationsDropped prometheus.Counter
	SegmentAudioDuration  prometheus.Histogram

	// Decode metrics
	DecodeDuration *prometheus.HistogramVec
	DecodeFailures *prometheus.CounterVec

	// Audio metrics
	AudioLevel prometheus.Gauge

	// Wake word metrics
	WakeDetections     *prometheus.CounterVec
	WakeWindowsSkipped prometheus.Counter
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiri_sessions_started_total",
			Help: "Total number of dictation sessions started",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiri_sessions_ended_total",
			Help: "Total number of dictation sessions ended",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiri_session_duration_seconds",
			Help:    "Duration of dictation sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Segment metrics
		SegmentsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiri_segments_finalized_total",
			Help: "Total number of speech segments finalized",
		}),
		PartialsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiri_partials_emitted_total",
			Help: "Total number of partial transcription previews emitted",
		}),
		HallucinationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiri_hallucinations_dropped_total",
			Help: "Total number of finalized segments dropped as hallucinations",
		}),
		SegmentAudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiri_segment_audio_duration_seconds",
			Help:    "Audio duration of finalized segments",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),

		// Decode metrics
		DecodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiri_decode_duration_seconds",
			Help:    "Duration of model decode calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~51s
		}, []string{"strategy"}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiri_decode_failures_total",
			Help: "Total number of failed decode calls",
		}, []string{"strategy"}),

		// Audio metrics
		AudioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kiri_audio_level",
			Help: "RMS level of the most recent capture frame",
		}),

		// Wake word metrics
		WakeDetections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiri_wake_detections_total",
			Help: "Total number of wake phrase detections",
		}, []string{"phrase"}),
		WakeWindowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiri_wake_windows_skipped_total",
			Help: "Total number of analysis windows skipped as too quiet",
		}),
	}
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnded records a finished session with its outcome
// ("result", "empty", "error") and duration
func (m *Metrics) RecordSessionEnded(outcome string, durationSeconds float64) {
	m.SessionsEnded.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSegmentFinalized records a finalized segment and its audio duration
func (m *Metrics) RecordSegmentFinalized(audioSeconds float64) {
	m.SegmentsFinalized.Inc()
	m.SegmentAudioDuration.Observe(audioSeconds)
}

// RecordPartialEmitted increments the partials counter
func (m *Metrics) RecordPartialEmitted() {
	m.PartialsEmitted.Inc()
}

// RecordHallucinationDropped increments the dropped hallucinations counter
func (m *Metrics) RecordHallucinationDropped() {
	m.HallucinationsDropped.Inc()
}

// RecordDecode records a decode call for the given strategy
func (m *Metrics) RecordDecode(strategy string, durationSeconds float64) {
	m.DecodeDuration.WithLabelValues(strategy).Observe(durationSeconds)
}

// RecordDecodeFailure increments the decode failures counter
func (m *Metrics) RecordDecodeFailure(strategy string) {
	m.DecodeFailures.WithLabelValues(strategy).Inc()
}

// SetAudioLevel sets the current capture level gauge
func (m *Metrics) SetAudioLevel(level float64) {
	m.AudioLevel.Set(level)
}

// RecordWakeDetection increments the wake detections counter for a phrase
func (m *Metrics) RecordWakeDetection(phrase string) {
	m.WakeDetections.WithLabelValues(phrase).Inc()
}

// RecordWakeWindowSkipped increments the skipped windows counter
func (m *Metrics) RecordWakeWindowSkipped() {
	m.WakeWindowsSkipped.Inc()
}

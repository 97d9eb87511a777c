// Package telemetry holds the Prometheus metrics shared by the voice engine.
//
// Every Record method is safe on a nil *Metrics so components can run
// without a registry (tests, the headless call monitor).
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	MicFramesTotal *prometheus.CounterVec

	// Playback metrics
	AudioFramesScheduled *prometheus.CounterVec
	AudioDecodeErrors    *prometheus.CounterVec
	PlaybackInFlight     *prometheus.GaugeVec

	// Tool metrics
	ToolCallsTotal *prometheus.CounterVec

	// Session metrics
	SessionPhase       prometheus.Gauge
	SessionsTotal      *prometheus.CounterVec
	SessionDuration    prometheus.Histogram
	FirstAudioLatency  prometheus.Histogram
	TransportErrors    *prometheus.CounterVec
	CallListenersTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
// on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceops"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MicFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mic_frames_total",
				Help:      "Microphone frames by outcome (sent, paused, overflow)",
			},
			[]string{"outcome"},
		),
		AudioFramesScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_frames_scheduled_total",
				Help:      "Audio buffers handed to a playback scheduler",
			},
			[]string{"source"},
		),
		AudioDecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_decode_errors_total",
				Help:      "Inbound audio payloads dropped because they could not be decoded",
			},
			[]string{"source"},
		),
		PlaybackInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "playback_in_flight",
				Help:      "Buffers scheduled on the output and not yet finished",
			},
			[]string{"source"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls dispatched by name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		SessionPhase: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_phase",
				Help:      "Current voice session phase (0 idle, 1 connecting, 2 active, 3 closing, 4 error)",
			},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Voice sessions by final status",
			},
			[]string{"status"},
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Voice session duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		FirstAudioLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "first_audio_latency_seconds",
				Help:      "Time from end of user turn to first model audio",
				Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 5},
			},
		),
		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Transport failures by reason",
			},
			[]string{"reason"},
		),
		CallListenersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_listeners_total",
				Help:      "Call-audio listeners by close classification",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.MicFramesTotal,
		m.AudioFramesScheduled,
		m.AudioDecodeErrors,
		m.PlaybackInFlight,
		m.ToolCallsTotal,
		m.SessionPhase,
		m.SessionsTotal,
		m.SessionDuration,
		m.FirstAudioLatency,
		m.TransportErrors,
		m.CallListenersTotal,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordMicFrame records one captured frame. outcome is sent, paused or overflow.
func (m *Metrics) RecordMicFrame(outcome string) {
	if m == nil {
		return
	}
	m.MicFramesTotal.WithLabelValues(outcome).Inc()
}

// RecordScheduled records a buffer handed to a scheduler.
func (m *Metrics) RecordScheduled(source string) {
	if m == nil {
		return
	}
	m.AudioFramesScheduled.WithLabelValues(source).Inc()
}

// RecordDecodeError records a dropped inbound audio payload.
func (m *Metrics) RecordDecodeError(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioDecodeErrors.WithLabelValues(source).Add(float64(n))
}

// SetInFlight sets the in-flight playback gauge.
func (m *Metrics) SetInFlight(source string, n int) {
	if m == nil {
		return
	}
	m.PlaybackInFlight.WithLabelValues(source).Set(float64(n))
}

// RecordToolCall records a dispatched tool call.
func (m *Metrics) RecordToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// SetPhase records the numeric session phase.
func (m *Metrics) SetPhase(phase int) {
	if m == nil {
		return
	}
	m.SessionPhase.Set(float64(phase))
}

// RecordSessionEnd records a finished session.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordFirstAudio records turn latency.
func (m *Metrics) RecordFirstAudio(latency time.Duration) {
	if m == nil || latency <= 0 {
		return
	}
	m.FirstAudioLatency.Observe(latency.Seconds())
}

// RecordTransportError records a transport failure.
func (m *Metrics) RecordTransportError(reason string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(reason).Inc()
}

// RecordCallListener records how a call listener ended.
func (m *Metrics) RecordCallListener(result string) {
	if m == nil {
		return
	}
	m.CallListenersTotal.WithLabelValues(result).Inc()
}

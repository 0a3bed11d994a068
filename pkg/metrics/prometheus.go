package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the consult service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Consultation Metrics
	callsTotal        *prometheus.CounterVec
	callsActive       prometheus.Gauge
	callDuration      *prometheus.HistogramVec
	callStartFailures *prometheus.CounterVec

	// Medical Note Metrics
	notesTotal       *prometheus.CounterVec
	noteSaveFailures prometheus.Counter

	// Transcription Metrics
	transcriptionSessions prometheus.Gauge
	transcriptionFailures prometheus.Counter

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Message Metrics
	messagesTotal *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being served",
				ConstLabels: labels,
			},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "consult_calls_total",
				Help:        "Total number of consultation calls by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "consult_calls_active",
				Help:        "Number of consultation calls currently active",
				ConstLabels: labels,
			},
		),
		callDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "consult_call_duration_seconds",
				Help:        "Duration of ended consultation calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{60, 300, 600, 900, 1800, 3600},
			},
			[]string{"role"},
		),
		callStartFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "consult_call_start_failures_total",
				Help:        "Failed call starts by failing step",
				ConstLabels: labels,
			},
			[]string{"step"},
		),
		notesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "consult_medical_notes_total",
				Help:        "Medical notes saved during consultations",
				ConstLabels: labels,
			},
			[]string{"note_type"},
		),
		noteSaveFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "consult_medical_note_failures_total",
				Help:        "Medical note saves that failed",
				ConstLabels: labels,
			},
		),
		transcriptionSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "consult_transcription_sessions",
				Help:        "Sessions currently being transcribed",
				ConstLabels: labels,
			},
		),
		transcriptionFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "consult_transcription_failures_total",
				Help:        "Transcription starts that failed",
				ConstLabels: labels,
			},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket signaling connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "WebSocket messages by type and direction",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		messagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "consult_messages_total",
				Help:        "In-call chat messages by direction",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		pushNotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Push notifications sent",
				ConstLabels: labels,
			},
			[]string{"type", "platform"},
		),
		pushNotificationsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Push notifications that failed to send",
				ConstLabels: labels,
			},
			[]string{"type", "platform"},
		),
	}
}

// HTTP metrics

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncHTTPInFlight increments the in-flight request gauge
func (m *Metrics) IncHTTPInFlight() { m.httpRequestsInFlight.Inc() }

// DecHTTPInFlight decrements the in-flight request gauge
func (m *Metrics) DecHTTPInFlight() { m.httpRequestsInFlight.Dec() }

// Consultation metrics

// RecordCall records a call by outcome (started, ended, ended_with_errors)
func (m *Metrics) RecordCall(outcome string) {
	m.callsTotal.WithLabelValues(outcome).Inc()
}

// CallStarted bumps the active-call gauge
func (m *Metrics) CallStarted() { m.callsActive.Inc() }

// CallEnded drops the active-call gauge and records the call duration
func (m *Metrics) CallEnded(role string, duration time.Duration) {
	m.callsActive.Dec()
	m.callDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordCallStartFailure records which lifecycle step broke a call start
func (m *Metrics) RecordCallStartFailure(step string) {
	m.callStartFailures.WithLabelValues(step).Inc()
}

// Note metrics

// RecordNote records a saved medical note
func (m *Metrics) RecordNote(noteType string) {
	m.notesTotal.WithLabelValues(noteType).Inc()
}

// RecordNoteFailure records a failed note save
func (m *Metrics) RecordNoteFailure() { m.noteSaveFailures.Inc() }

// Transcription metrics

// TranscriptionStarted bumps the transcribing-session gauge
func (m *Metrics) TranscriptionStarted() { m.transcriptionSessions.Inc() }

// TranscriptionStopped drops the transcribing-session gauge
func (m *Metrics) TranscriptionStopped() { m.transcriptionSessions.Dec() }

// RecordTranscriptionFailure records a transcription start that failed
func (m *Metrics) RecordTranscriptionFailure() { m.transcriptionFailures.Inc() }

// WebSocket metrics

// WebSocketConnected bumps the connection gauge
func (m *Metrics) WebSocketConnected() { m.websocketConnections.Inc() }

// WebSocketDisconnected drops the connection gauge
func (m *Metrics) WebSocketDisconnected() { m.websocketConnections.Dec() }

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// Message metrics

// RecordMessage records an in-call chat message ("sent" or "received")
func (m *Metrics) RecordMessage(direction string) {
	m.messagesTotal.WithLabelValues(direction).Inc()
}

// Push metrics

// RecordPushNotification records a push notification
func (m *Metrics) RecordPushNotification(notifType, platform string) {
	m.pushNotificationsTotal.WithLabelValues(notifType, platform).Inc()
}

// RecordPushNotificationFailure records a failed push notification
func (m *Metrics) RecordPushNotificationFailure(notifType, platform string) {
	m.pushNotificationsFailed.WithLabelValues(notifType, platform).Inc()
}

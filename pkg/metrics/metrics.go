// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections to gateway clients.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SessionsActive tracks chat sessions held in memory.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of chat sessions held by the gateway",
		},
	)

	// TurnDuration tracks the time from request to end of stream.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expert_chat_turn_duration_seconds",
			Help:    "Expert chat turn duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"status"},
	)

	// TurnsTotal tracks finished turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expert_chat_turns_total",
			Help: "Total expert chat turns",
		},
		[]string{"status"},
	)

	// StreamFramesTotal tracks parsed stream frames by kind.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expert_chat_stream_frames_total",
			Help: "Parsed expert chat stream frames",
		},
		[]string{"kind"},
	)

	// UnknownEventsTotal tracks payloads that matched no known event shape.
	UnknownEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expert_chat_unknown_events_total",
			Help: "Stream payloads with an unrecognized shape",
		},
		[]string{"type"},
	)

	// ConversationsCreated tracks first-time conversation persistence signals.
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expert_chat_conversations_created_total",
			Help: "Conversations created by the expert chat endpoint",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a finished turn.
func RecordTurn(status string, duration float64) {
	TurnDuration.WithLabelValues(status).Observe(duration)
	TurnsTotal.WithLabelValues(status).Inc()
}

// RecordFrame counts one parsed stream frame.
func RecordFrame(kind string) {
	StreamFramesTotal.WithLabelValues(kind).Inc()
}

// RecordUnknownEvent counts one unrecognized payload.
func RecordUnknownEvent(eventType string) {
	if eventType == "" {
		eventType = "none"
	}
	UnknownEventsTotal.WithLabelValues(eventType).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

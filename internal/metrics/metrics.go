package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_connections_active",
			Help: "Current number of registered WebSocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_users_online",
			Help: "Current number of users with at least one registered connection",
		},
	)

	Handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_handshakes_total",
			Help: "WebSocket handshakes by result",
		},
		[]string{"result"}, // "accepted", "unauthorized", "limited", "error"
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_frames_received_total",
			Help: "Inbound frames by declared type",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_frames_dropped_total",
			Help: "Inbound frames dropped before or during handling",
		},
		[]string{"reason"}, // "malformed", "unknown_type", "rejected", "failed", "panic", "rate_limited"
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_events_delivered_total",
			Help: "Outbound events queued to a connection, by event type",
		},
		[]string{"type"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_events_skipped_total",
			Help: "Outbound events not queued to a connection",
		},
		[]string{"reason"}, // "closed", "queue_full"
	)

	MissedCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_missed_calls_total",
			Help: "Missed-call side effects by result",
		},
		[]string{"result"}, // "recorded", "failed"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatrelay_collaborator_breaker_state",
			Help: "Collaborator circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

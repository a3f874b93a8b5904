// Package metrics defines the Prometheus collectors for the realtime service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebSocket connection and subscription metrics
var (
	// WebSocketActiveConnections tracks currently connected clients
	WebSocketActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_active_connections",
			Help: "Currently connected WebSocket clients",
		},
	)

	// WebSocketActiveSubscriptions tracks live (connection, poll) subscription pairs
	WebSocketActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_active_subscriptions",
			Help: "Currently active poll subscriptions across all connections",
		},
	)

	// WebSocketSubscribedPolls tracks polls with at least one subscriber
	WebSocketSubscribedPolls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_subscribed_polls",
			Help: "Polls with at least one active subscriber",
		},
	)

	// WebSocketControlMessagesTotal tracks inbound control messages by type and outcome
	WebSocketControlMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_control_messages_total",
			Help: "Inbound WebSocket control messages by type and status",
		},
		[]string{"type", "status"},
	)

	// WebSocketMessageSendDuration tracks the latency of individual socket writes
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// WebSocketPingFailures tracks failed keepalive pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket keepalive pings",
		},
	)
)

// Broadcast metrics
var (
	// BroadcastsTotal tracks broadcast attempts by outcome
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_broadcasts_total",
			Help: "Poll update broadcasts by outcome",
		},
		[]string{"status"},
	)

	// BroadcastDeliveriesTotal tracks per-connection delivery outcomes
	BroadcastDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_broadcast_deliveries_total",
			Help: "Per-connection poll update deliveries by status",
		},
		[]string{"status"},
	)
)

// Results fetch metrics
var (
	// ResultsFetchesTotal tracks results snapshot fetches by source and outcome
	ResultsFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_results_fetches_total",
			Help: "Poll results fetches by source and status",
		},
		[]string{"source", "status"},
	)

	// ResultsFetchDuration tracks results fetch latency by source
	ResultsFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_results_fetch_duration_seconds",
			Help:    "Poll results fetch duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"source"},
	)

	// CircuitBreakerState tracks breaker state per component (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// CircuitBreakerStateChanges tracks breaker transitions per component
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)
)

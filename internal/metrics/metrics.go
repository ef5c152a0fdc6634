// Package metrics provides Prometheus instrumentation for the Beacon chat
// client core and the reference server. It exposes gauges for connection
// state, counters for message throughput and reconnects, and histograms for
// heartbeat latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionState reports the client connection state machine position:
	// 0 = disconnected, 1 = connecting, 2 = connected.
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_connection_state",
		Help: "Client connection state (0=disconnected, 1=connecting, 2=connected)",
	})

	// ReconnectsTotal counts reconnect attempts scheduled by the client.
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_reconnects_total",
		Help: "Total number of reconnect attempts scheduled",
	})

	// QueuedMessages tracks the current depth of the client outbound queue.
	QueuedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_queued_messages",
		Help: "Current number of messages in the outbound queue",
	})

	// HeartbeatLatency records heartbeat round-trip latency in seconds.
	HeartbeatLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beacon_heartbeat_latency_seconds",
		Help:    "Heartbeat ping/pong round-trip latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MessagesTotal counts messages processed by the client, labeled by
	// direction: "sent", "received", "queued", or "dropped".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_messages_total",
		Help: "Total number of messages processed by the client",
	}, []string{"direction"})

	// ServerConnections tracks the current number of WebSocket connections
	// on the reference server.
	ServerConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_server_connections",
		Help: "Current number of active server-side WebSocket connections",
	})

	// ServerMessagesTotal counts messages handled by the reference server,
	// labeled by type: "received", "sent", or "rejected".
	ServerMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_server_messages_total",
		Help: "Total number of messages handled by the server",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		ConnectionState,
		ReconnectsTotal,
		QueuedMessages,
		HeartbeatLatency,
		MessagesTotal,
		ServerConnections,
		ServerMessagesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for downstream subscriber connections.
type WebSocketMetrics struct {
	ActiveConnections   prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	FramesSent          prometheus.Counter
	FramesDropped       *prometheus.CounterVec
	SlowClientsEvicted  prometheus.Counter
	PingFailures        prometheus.Counter
	SendDuration        prometheus.Histogram
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of subscribers currently in the registry.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Subscriber connections rejected before upgrade, by reason.",
		}, []string{"reason"}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frames_sent_total",
			Help:      "Total number of relayed frames written to subscribers.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frames_dropped_total",
			Help:      "Relayed frames not delivered to a subscriber, by reason.",
		}, []string{"reason"}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "slow_clients_evicted_total",
			Help:      "Subscribers disconnected because their send queue was full.",
		}),
		PingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ping_failures_total",
			Help:      "Keepalive pings that could not be written.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_duration_seconds",
			Help:      "Time spent writing a single frame to a subscriber.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsRejected,
		m.FramesSent,
		m.FramesDropped,
		m.SlowClientsEvicted,
		m.PingFailures,
		m.SendDuration,
	)
	return m
}

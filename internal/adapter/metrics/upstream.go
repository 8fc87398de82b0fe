package metrics

import "github.com/prometheus/client_golang/prometheus"

// UpstreamMetrics holds Prometheus metrics for the feed connection.
type UpstreamMetrics struct {
	Connected        prometheus.Gauge
	ConnectAttempts  *prometheus.CounterVec
	Disconnects      prometheus.Counter
	MessagesReceived prometheus.Counter
}

// NewUpstreamMetrics creates and registers upstream metrics on the given registry.
func NewUpstreamMetrics(reg prometheus.Registerer) *UpstreamMetrics {
	m := &UpstreamMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "connected",
			Help:      "1 while the feed connection is open, 0 otherwise.",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "connect_attempts_total",
			Help:      "Feed connection attempts, by result.",
		}, []string{"result"}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "disconnects_total",
			Help:      "Established feed connections that were lost.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "messages_received_total",
			Help:      "Total number of frames received from the feed.",
		}),
	}

	reg.MustRegister(m.Connected, m.ConnectAttempts, m.Disconnects, m.MessagesReceived)
	return m
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConnectionMetrics holds Prometheus metrics for managed WebSocket connections.
type ConnectionMetrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec
	Disconnects       *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessagesSent      prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	ProtocolErrors    *prometheus.CounterVec
	RouteDuration     prometheus.Histogram
}

// NewConnectionMetrics creates and registers WebSocket metrics on the given registry.
func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of authenticated WebSocket connections.",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total number of connection attempts, by result.",
		}, []string{"result"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "disconnects_total",
			Help:      "Total number of closed connections, by reason.",
		}, []string{"reason"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Total number of inbound frames, by routing outcome.",
		}, []string{"outcome"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of envelopes written to clients.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Total number of outbound envelopes dropped, by reason.",
		}, []string{"reason"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "protocol_errors_total",
			Help:      "Total number of error envelopes returned to clients, by code.",
		}, []string{"code"}),
		RouteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "route_duration_seconds",
			Help:      "Time spent routing one inbound frame.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.ConnectionsTotal, m.Disconnects, m.MessagesReceived,
		m.MessagesSent, m.MessagesDropped, m.ProtocolErrors, m.RouteDuration)
	return m
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// BridgeMetrics holds Prometheus metrics for cross-instance fan-out.
type BridgeMetrics struct {
	Published  *prometheus.CounterVec
	Received   *prometheus.CounterVec
	Delivered  *prometheus.CounterVec
	Degraded   prometheus.Gauge
	Reconnects prometheus.Counter
}

// NewBridgeMetrics creates and registers pub/sub bridge metrics on the given registry.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "published_total",
			Help:      "Notifications published, by topic family and result (ok, degraded).",
		}, []string{"family", "result"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "received_total",
			Help:      "Broadcast messages received from Redis, by result (delivered, own, invalid).",
		}, []string{"result"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "delivered_total",
			Help:      "Envelopes handed to local connections, by source (local, remote).",
		}, []string{"source"}),
		Degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "degraded",
			Help:      "1 while the bridge runs local-only because Redis is unreachable.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "reconnects_total",
			Help:      "Total number of pub/sub resubscribe attempts.",
		}),
	}

	reg.MustRegister(m.Published, m.Received, m.Delivered, m.Degraded, m.Reconnects)
	return m
}

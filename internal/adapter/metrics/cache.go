package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for the topic ownership cache.
type CacheMetrics struct {
	Lookups   *prometheus.CounterVec
	Evictions prometheus.Counter
	Entries   prometheus.Gauge
}

// NewCacheMetrics creates and registers ownership cache metrics on the given registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ownership_cache",
			Name:      "lookups_total",
			Help:      "Total number of ownership lookups, by result (hit, miss, shared).",
		}, []string{"result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ownership_cache",
			Name:      "evictions_total",
			Help:      "Total number of expired ownership entries evicted.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ownership_cache",
			Name:      "entries",
			Help:      "Number of entries currently held in the ownership cache.",
		}),
	}

	reg.MustRegister(m.Lookups, m.Evictions, m.Entries)
	return m
}

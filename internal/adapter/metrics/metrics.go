package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deskpulse"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Set bundles every metric group the server exports.
type Set struct {
	HTTP       *HTTPMetrics
	Connection *ConnectionMetrics
	Bridge     *BridgeMetrics
	Redis      *RedisMetrics
	Cache      *CacheMetrics
	Postgres   *PostgresMetrics
}

// NewSet registers all metric groups on reg.
func NewSet(reg prometheus.Registerer) *Set {
	return &Set{
		HTTP:       NewHTTPMetrics(reg),
		Connection: NewConnectionMetrics(reg),
		Bridge:     NewBridgeMetrics(reg),
		Redis:      NewRedisMetrics(reg),
		Cache:      NewCacheMetrics(reg),
		Postgres:   NewPostgresMetrics(reg),
	}
}

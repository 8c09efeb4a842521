package httpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	wsadapter "github.com/pscheid92/deskpulse/internal/adapter/websocket"
	"github.com/pscheid92/deskpulse/internal/platform/config"
)

type stubManager struct {
	count int
}

func (m *stubManager) Connect(context.Context, *websocket.Conn, string) (*wsadapter.Connection, error) {
	return nil, errors.New("not implemented")
}

func (m *stubManager) Serve(context.Context, *wsadapter.Connection) {}

func (m *stubManager) Count() int { return m.count }

type serverOption func(*config.Config, *Deps)

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(_ *config.Config, d *Deps) { d.HealthChecks = checks }
}

func withManager(m connectionManager) serverOption {
	return func(_ *config.Config, d *Deps) { d.Manager = m }
}

func withDegraded(degraded bool) serverOption {
	return func(_ *config.Config, d *Deps) { d.Degraded = func() bool { return degraded } }
}

func withConfig(fn func(*config.Config)) serverOption {
	return func(c *config.Config, _ *Deps) { fn(c) }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "production",
		Port:                    "0",
		AppURL:                  "https://app.example.com",
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		HandshakeRatePerSecond:  100,
		HandshakeBurst:          100,
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()

	cfg := testConfig()
	deps := Deps{
		Manager: &stubManager{},
		Metrics: metrics.NewHTTPMetrics(prometheus.NewRegistry()),
		Clock:   clockwork.NewFakeClock(),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	return NewServer(cfg, deps)
}

func withClock(clock clockwork.Clock) serverOption {
	return func(_ *config.Config, d *Deps) { d.Clock = clock }
}

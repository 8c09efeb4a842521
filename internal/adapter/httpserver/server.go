// Package httpserver exposes the WebSocket upgrade endpoint plus health,
// version and metrics routes over echo.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	wsadapter "github.com/pscheid92/deskpulse/internal/adapter/websocket"
	"github.com/pscheid92/deskpulse/internal/platform/config"
)

// connectionManager is the part of the WebSocket manager the upgrade route drives.
type connectionManager interface {
	Connect(ctx context.Context, conn *websocket.Conn, token string) (*wsadapter.Connection, error)
	Serve(ctx context.Context, c *wsadapter.Connection)
	Count() int
}

// Deps are the collaborators the server routes to. Metrics, MetricsHandler
// and Degraded are optional.
type Deps struct {
	Manager        connectionManager
	HealthChecks   []HealthCheck
	Metrics        *metrics.HTTPMetrics
	MetricsHandler http.Handler
	Degraded       func() bool
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	manager        connectionManager
	upgrader       websocket.Upgrader
	limits         *ConnectionLimits
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	degraded       func() bool

	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:    e,
		config:  cfg,
		manager: deps.Manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     wsadapter.NewCheckOrigin(cfg.AppURL, cfg.Origins(), cfg.IsDevelopment()),
		},
		limits:         NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP),
		httpMetrics:    deps.Metrics,
		metricsHandler: deps.MetricsHandler,
		degraded:       deps.Degraded,
		healthChecks:   deps.HealthChecks,
		clock:          clock,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

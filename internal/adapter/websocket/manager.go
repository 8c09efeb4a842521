// Package websocket owns authenticated client sockets: handshake
// authentication, bounded per-connection send queues, heartbeats and
// cleanup on close.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	"github.com/pscheid92/deskpulse/internal/domain"
	"github.com/pscheid92/deskpulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
	"github.com/pscheid92/deskpulse/internal/protocol"
)

const (
	defaultWriteTimeout = 5 * time.Second
	directoryTimeout    = 2 * time.Second
)

type Config struct {
	ServerID          string
	HeartbeatInterval time.Duration
	SendQueueSize     int
	MaxMessageBytes   int64
	MaxProtocolErrors int
	WriteTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		SendQueueSize:     64,
		MaxMessageBytes:   64 * 1024,
		MaxProtocolErrors: 10,
		WriteTimeout:      defaultWriteTimeout,
	}
}

type Router interface {
	Route(ctx context.Context, s protocol.Session, raw []byte) protocol.Outcome
}

// Registry is the part of the subscription registry the manager drives.
type Registry interface {
	Attach(connectionID string)
	CleanupConnection(connectionID string) int
	TopicsOf(connectionID string) []domain.Topic
}

type Limiter interface {
	Forget(connectionID string)
}

// Directory records live connections for cross-instance visibility.
type Directory interface {
	Register(ctx context.Context, connectionID string, principal domain.Principal) error
	Unregister(ctx context.Context, connectionID string) error
}

// Manager owns every live connection on this instance.
type Manager struct {
	cfg       Config
	validator domain.TokenValidator
	router    Router
	registry  Registry
	limiter   Limiter
	directory Directory
	clock     clockwork.Clock
	metrics   *metrics.ConnectionMetrics

	mu           sync.RWMutex
	connections  map[string]*Connection
	shuttingDown atomic.Bool
}

// ManagerDeps bundles the collaborators of a Manager. Directory may be nil.
type ManagerDeps struct {
	Validator domain.TokenValidator
	Router    Router
	Registry  Registry
	Limiter   Limiter
	Directory Directory
	Clock     clockwork.Clock
	Metrics   *metrics.ConnectionMetrics
}

var _ domain.Deliverer = (*Manager)(nil)

func NewManager(cfg Config, deps ManagerDeps) *Manager {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Manager{
		cfg:         cfg,
		validator:   deps.Validator,
		router:      deps.Router,
		registry:    deps.Registry,
		limiter:     deps.Limiter,
		directory:   deps.Directory,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		connections: make(map[string]*Connection),
	}
}

// Connect authenticates an upgraded socket. On failure the socket receives a
// policy-violation close frame and is closed.
func (m *Manager) Connect(ctx context.Context, conn *websocket.Conn, token string) (*Connection, error) {
	if m.shuttingDown.Load() {
		m.reject(conn, websocket.CloseGoingAway, "server shutting down")
		m.metrics.ConnectionsTotal.WithLabelValues("shutting_down").Inc()
		return nil, apperrors.TransportError("server shutting down", nil)
	}

	principal, err := m.validator.Validate(ctx, token)
	if err != nil {
		m.reject(conn, websocket.ClosePolicyViolation, "authentication failed")
		m.metrics.ConnectionsTotal.WithLabelValues("auth_failed").Inc()
		slog.InfoContext(ctx, "WebSocket authentication failed", "remote_addr", conn.RemoteAddr().String(), "error", err)
		return nil, apperrors.AuthenticationError("invalid token", err)
	}

	c := newConnection(uuid.NewString(), principal, conn, m.clock, m.cfg)
	c.onDropped = func(reason string) { m.metrics.MessagesDropped.WithLabelValues(reason).Inc() }
	c.onSent = m.metrics.MessagesSent.Inc
	c.advance(StateAuthenticated)

	conn.SetReadLimit(m.cfg.MaxMessageBytes)
	c.configureHandlers()

	m.registry.Attach(c.id)
	m.mu.Lock()
	m.connections[c.id] = c
	m.mu.Unlock()

	m.metrics.ActiveConnections.Inc()
	m.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()

	if m.directory != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), directoryTimeout)
		if err := m.directory.Register(dctx, c.id, principal); err != nil {
			slog.WarnContext(ctx, "Failed to register connection in directory", "connection_id", c.id, "error", err)
		}
		cancel()
	}

	go func() {
		c.writeLoop(m.overflowNotice)
		m.release(c)
	}()

	c.advance(StateActive)
	m.sendEnvelope(c, domain.NewEnvelope(domain.TypeConnectionEstablished, map[string]any{
		"connection_id":   c.id,
		"user_id":         principal.UserID,
		"organization_id": principal.OrganizationID,
		"server_id":       m.cfg.ServerID,
	}))

	slog.InfoContext(ctx, "WebSocket connected",
		"connection_id", c.id, "user_id", principal.UserID, "organization_id", principal.OrganizationID)
	return c, nil
}

// Serve runs the read loop for c until the socket closes. Frames are routed
// one at a time so each response is queued before the next frame is read.
func (m *Manager) Serve(ctx context.Context, c *Connection) {
	ctx = correlation.WithConnection(ctx, c.id)

	go func() {
		select {
		case <-ctx.Done():
			c.requestClose(websocket.CloseGoingAway, "server shutdown", reasonServerShutdown)
		case <-c.done:
		}
	}()

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			m.readFailed(ctx, c, err)
			<-c.done
			return
		}
		c.touch()

		if c.State() != StateActive {
			continue
		}
		if msgType != websocket.TextMessage {
			m.metrics.MessagesReceived.WithLabelValues("binary").Inc()
			continue
		}
		m.route(ctx, c, raw)
	}
}

func (m *Manager) route(ctx context.Context, c *Connection, raw []byte) {
	start := m.clock.Now()
	out := m.router.Route(ctx, c, raw)
	m.metrics.RouteDuration.Observe(m.clock.Since(start).Seconds())
	m.metrics.MessagesReceived.WithLabelValues(out.Kind.String()).Inc()

	if out.Response.Type == domain.TypeError {
		m.metrics.ProtocolErrors.WithLabelValues(out.Response.Code).Inc()
	}
	m.sendEnvelope(c, out.Response)

	switch out.Kind {
	case protocol.OutcomeProtocolError:
		c.protocolErrors++
		if m.cfg.MaxProtocolErrors > 0 && c.protocolErrors >= m.cfg.MaxProtocolErrors {
			slog.WarnContext(ctx, "Closing connection after repeated protocol errors", "count", c.protocolErrors)
			c.requestClose(websocket.ClosePolicyViolation, "too many protocol errors", reasonProtocolErrors)
		}
	case protocol.OutcomeOK, protocol.OutcomeRejected:
		c.protocolErrors = 0
	}

	if out.Disconnect {
		slog.WarnContext(ctx, "Closing connection after repeated rate limit violations")
		c.requestClose(websocket.ClosePolicyViolation, "rate limit exceeded", reasonRateLimited)
	}
}

func (m *Manager) readFailed(ctx context.Context, c *Connection, err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway):
		c.requestClose(websocket.CloseNormalClosure, "", reasonClientClosed)
	case errors.Is(err, websocket.ErrReadLimit):
		c.requestClose(websocket.CloseMessageTooBig, "message too large", reasonMessageTooLarge)
	default:
		if c.State() < StateClosing {
			slog.DebugContext(ctx, "WebSocket read failed", "error", err)
		}
		c.requestClose(websocket.CloseAbnormalClosure, "read failed", reasonTransportError)
	}
}

// Send queues envelope for one connection. Notifications may be dropped under
// back-pressure; every other type is critical.
func (m *Manager) Send(connectionID string, envelope domain.Envelope) error {
	c, ok := m.get(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, connectionID)
	}
	return m.sendEnvelope(c, envelope)
}

func (m *Manager) sendEnvelope(c *Connection, envelope domain.Envelope) error {
	if envelope.Timestamp == "" {
		envelope = envelope.Stamped(m.clock.Now())
	}
	payload, err := envelope.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	_, err = c.enqueue(payload, !domain.IsNotification(envelope.Type))
	return err
}

// Deliver implements domain.Deliverer. The envelope is encoded once and
// queued on every listed connection.
func (m *Manager) Deliver(connectionIDs []string, envelope domain.Envelope) int {
	if len(connectionIDs) == 0 {
		return 0
	}
	if envelope.Timestamp == "" {
		envelope = envelope.Stamped(m.clock.Now())
	}
	payload, err := envelope.Marshal()
	if err != nil {
		slog.Error("Failed to encode notification", "type", envelope.Type, "error", err)
		return 0
	}

	critical := !domain.IsNotification(envelope.Type)
	accepted := 0
	for _, id := range connectionIDs {
		c, ok := m.get(id)
		if !ok {
			continue
		}
		if ok, err := c.enqueue(payload, critical); err == nil && ok {
			accepted++
		}
	}
	return accepted
}

// Close terminates one connection with the given close code and waits for
// its cleanup to finish.
func (m *Manager) Close(connectionID string, code int, reason string) error {
	c, ok := m.get(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, connectionID)
	}
	c.requestClose(code, reason, reasonServerClosed)
	<-c.done
	return nil
}

// Topics returns the topics connectionID currently holds.
func (m *Manager) Topics(connectionID string) []domain.Topic {
	return m.registry.TopicsOf(connectionID)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Shutdown unsubscribes every connection, then sends server_shutdown and a
// going-away close frame. New connections are refused from the first call.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shuttingDown.Store(true)

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	slog.Info("Shutting down WebSocket connections", "count", len(conns))

	notice := domain.NewEnvelope(domain.TypeServerShutdown, map[string]any{"server_id": m.cfg.ServerID})
	for _, c := range conns {
		m.registry.CleanupConnection(c.id)
		_ = m.sendEnvelope(c, notice)
		c.requestClose(websocket.CloseGoingAway, "server shutdown", reasonServerShutdown)
	}

	for _, c := range conns {
		select {
		case <-c.done:
		case <-ctx.Done():
			for _, c := range conns {
				_ = c.conn.Close()
			}
			return fmt.Errorf("websocket shutdown: %w", ctx.Err())
		}
	}
	return nil
}

func (m *Manager) get(connectionID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[connectionID]
	return c, ok
}

// release runs once per connection after its writer exits.
func (m *Manager) release(c *Connection) {
	defer close(c.done)
	c.advance(StateClosed)

	removed := m.registry.CleanupConnection(c.id)
	m.limiter.Forget(c.id)

	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()

	if m.directory != nil {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		if err := m.directory.Unregister(ctx, c.id); err != nil {
			slog.Warn("Failed to unregister connection from directory", "connection_id", c.id, "error", err)
		}
		cancel()
	}

	m.metrics.ActiveConnections.Dec()
	m.metrics.Disconnects.WithLabelValues(c.closeLabel).Inc()

	slog.Info("WebSocket disconnected",
		"connection_id", c.id,
		"reason", c.closeLabel,
		"topics_removed", removed,
		"duration", m.clock.Since(c.createdAt).String())
}

func (m *Manager) overflowNotice(dropped int) []byte {
	env := domain.NewEnvelope(domain.TypeQueueOverflow, map[string]any{"dropped": dropped}).Stamped(m.clock.Now())
	payload, _ := env.Marshal()
	return payload
}

func (m *Manager) reject(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.cfg.WriteTimeout))
	_ = conn.Close()
}

package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

func (s *Server) registerWebSocketRoutes() {
	handshakeLimiter := newRateLimiter(s.config.HandshakeRatePerSecond, s.config.HandshakeBurst, s.httpMetrics)
	s.echo.GET("/ws", s.handleWebSocket, handshakeLimiter)
}

// handleWebSocket upgrades the request and hands the socket to the
// connection manager. Authentication happens after the upgrade so a bad
// token is answered with a policy-violation close frame.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		s.rejectHandshake(reason)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error":  "connection limit reached",
			"reason": string(reason),
		})
	}
	defer s.limits.Release(ip)

	if !s.upgrader.CheckOrigin(c.Request()) {
		s.rejectHandshake(LimitReasonOrigin)
		return c.JSON(http.StatusForbidden, map[string]string{"error": "origin not allowed"})
	}

	token := bearerToken(c.Request())

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		return nil
	}

	ctx := c.Request().Context()
	wsConn, err := s.manager.Connect(ctx, conn, token)
	if err != nil {
		return nil
	}
	s.manager.Serve(ctx, wsConn)
	return nil
}

func (s *Server) rejectHandshake(reason LimitReason) {
	if s.httpMetrics != nil {
		s.httpMetrics.HandshakeRejections.WithLabelValues(string(reason)).Inc()
	}
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter for browser clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

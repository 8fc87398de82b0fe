package httpserver

import (
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/aisrelay/internal/broadcast"
	apperrors "github.com/pscheid92/aisrelay/internal/platform/errors"
	"github.com/pscheid92/aisrelay/internal/platform/logging"
)

func (s *Server) handleRoot(c echo.Context) error {
	if websocket.IsWebSocketUpgrade(c.Request()) {
		return s.handleSubscribe(c)
	}
	return s.handleHealth(c)
}

// handleSubscribe upgrades the request, registers the subscriber and blocks
// until the connection ends. Client frames are read and discarded.
func (s *Server) handleSubscribe(c echo.Context) error {
	ip := c.RealIP()

	if ok, reason := s.limits.Acquire(ip); !ok {
		s.wsMetrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		return limitError(reason).WithField("remote_addr", ip)
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.wsMetrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		slog.Warn("WebSocket upgrade failed", "remote_addr", ip, "error", err)
		return nil
	}

	session := broadcast.NewSession(conn, ip, s.relay.Clock(), s.wsMetrics)
	ctx := logging.WithSessionID(c.Request().Context(), session.ID.String())

	clients := s.relay.Subscribe(session)
	slog.InfoContext(ctx, "Client connected", "remote_addr", ip, "clients", clients)

	err = session.Listen()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		slog.DebugContext(ctx, "Client connection error", "remote_addr", ip, "error", err)
	}

	remaining, removed := s.relay.Unsubscribe(session)
	session.Close()
	if removed {
		slog.InfoContext(ctx, "Client disconnected", "remote_addr", ip, "remaining", remaining)
	}
	return nil
}

func limitError(reason LimitReason) *apperrors.Error {
	switch reason {
	case LimitReasonGlobal:
		return apperrors.UnavailableError("relay is at connection capacity").WithField("reason", string(reason))
	case LimitReasonPerIP:
		return apperrors.RateLimitedError("too many connections from this address").WithField("reason", string(reason))
	default:
		return apperrors.RateLimitedError("connection rate exceeded").WithField("reason", string(reason))
	}
}

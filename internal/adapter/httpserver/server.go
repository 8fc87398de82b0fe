package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
	"github.com/pscheid92/aisrelay/internal/broadcast"
	"github.com/pscheid92/aisrelay/internal/platform/config"
	"github.com/pscheid92/aisrelay/internal/relay"
)

type relayService interface {
	Subscribe(session *broadcast.Session) int
	Unsubscribe(session *broadcast.Session) (int, bool)
	Stats() relay.Stats
	StartedAt() time.Time
	Clock() clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	relay  relayService

	limits         *connectionLimits
	upgrader       websocket.Upgrader
	wsMetrics      *metrics.WebSocketMetrics
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
}

func NewServer(cfg *config.Config, svc relayService, reg *prometheus.Registry, wsMetrics *metrics.WebSocketMetrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		config: cfg,
		relay:  svc,
		limits: newConnectionLimits(cfg.MaxWebSocketConnections, cfg.MaxConnectionsPerIP,
			cfg.ConnectionRate, cfg.ConnectionBurst, svc.Clock()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Subscribers connect from arbitrary dashboards.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		wsMetrics:      wsMetrics,
		httpMetrics:    metrics.NewHTTPMetrics(reg),
		metricsHandler: metrics.Handler(reg),
	}

	e.HTTPErrorHandler = srv.handleHTTPError
	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("AIS WebSocket relay listening", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections. Hijacked subscriber connections are
// not tracked by the HTTP server and must be closed by the relay.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router for in-process tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		_ = HandleError(c, err)
		return
	}
	_ = HandleError(c, WrapHTTPError(httpErr))
}

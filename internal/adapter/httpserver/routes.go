package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.httpMetrics.Middleware())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, "Upgrade", "Connection"},
	}))
	s.echo.Use(ErrorHandlingMiddleware())

	// An upgrade request on / subscribes; anything else gets the health report.
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/ws", s.handleSubscribe)

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_addr", v.RemoteIP,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Debug("Request", attrs...)
			return nil
		},
	})
}

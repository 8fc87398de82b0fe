package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/aisrelay/internal/platform/version"
)

// lastMessageLayout renders ISO-8601 in UTC with millisecond precision.
const lastMessageLayout = "2006-01-02T15:04:05.000Z07:00"

type healthResponse struct {
	Status      string `json:"status"`
	Clients     int    `json:"clients"`
	Messages    uint64 `json:"messages"`
	Connected   bool   `json:"connected"`
	LastMessage string `json:"lastMessage"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/version", s.handleVersion)
}

// handleHealth reports relay state. It reads counters only and never waits
// on the upstream feed.
func (s *Server) handleHealth(c echo.Context) error {
	stats := s.relay.Stats()

	response := healthResponse{
		Status:      "ok",
		Clients:     stats.Clients,
		Messages:    stats.Messages,
		Connected:   stats.Connected,
		LastMessage: stats.LastMessage.UTC().Format(lastMessageLayout),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := s.relay.Clock().Since(s.relay.StartedAt()).Truncate(time.Millisecond)

	response := map[string]any{
		"status": "ok",
		"uptime": uptime.Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}

package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Notification trigger (vote mutations in the poll API land here)
	s.echo.POST("/api/notify/poll/:pollId", s.handleNotifyPoll)

	// WebSocket endpoint for poll subscribers
	s.echo.GET("/ws", s.handleWebSocket)
}

package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mimimightyowl/live-poll-bot/internal/broadcast"
	"github.com/mimimightyowl/live-poll-bot/internal/config"
	"github.com/mimimightyowl/live-poll-bot/internal/errors"
	ws "github.com/mimimightyowl/live-poll-bot/internal/websocket"
)

// sourcePinger is implemented by results sources that can report
// reachability; the readiness endpoint uses it when available.
type sourcePinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	registry  *ws.Registry
	engine    *broadcast.Engine
	pinger    sourcePinger
	startTime time.Time
}

// NewServer builds the Echo server. source may implement sourcePinger; pass
// the results source so readiness can probe it.
func NewServer(cfg *config.Config, registry *ws.Registry, engine *broadcast.Engine, source any) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(errors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		registry:  registry,
		engine:    engine,
		startTime: time.Now(),
	}
	if pinger, ok := source.(sourcePinger); ok {
		srv.pinger = pinger
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

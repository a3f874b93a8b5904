package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mimimightyowl/live-poll-bot/internal/broadcast"
	"github.com/mimimightyowl/live-poll-bot/internal/config"
	"github.com/mimimightyowl/live-poll-bot/internal/domain"
	"github.com/mimimightyowl/live-poll-bot/internal/logging"
	"github.com/mimimightyowl/live-poll-bot/internal/natsrpc"
	"github.com/mimimightyowl/live-poll-bot/internal/results"
	"github.com/mimimightyowl/live-poll-bot/internal/server"
	"github.com/mimimightyowl/live-poll-bot/internal/websocket"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupResultsSource(cfg *config.Config) (domain.ResultsSource, func()) {
	switch cfg.ResultsSource {
	case config.ResultsSourcePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		repo, err := results.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		return repo, repo.Close
	default:
		return results.NewAPIClient(cfg.PollAPIURL), func() {}
	}
}

func runGracefulShutdown(srv *server.Server, registry *websocket.Registry, notifier *natsrpc.Notifier) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if notifier != nil {
			notifier.Close()
		}

		registry.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "results_source", cfg.ResultsSource)

	source, closeSource := setupResultsSource(cfg)
	defer closeSource()

	registry := websocket.NewRegistry(clock, cfg.MaxSubscriptionsPerConn)
	engine := broadcast.NewEngine(source, registry)

	srv := server.NewServer(cfg, registry, engine, source)

	var notifier *natsrpc.Notifier
	if cfg.NATSURL != "" {
		var err error
		notifier, err = natsrpc.Start(cfg.NATSURL, engine)
		if err != nil {
			slog.Error("Failed to start NATS notifier", "error", err)
			os.Exit(1)
		}
	}

	done := runGracefulShutdown(srv, registry, notifier)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

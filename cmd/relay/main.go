package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/aisrelay/internal/adapter/httpserver"
	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
	"github.com/pscheid92/aisrelay/internal/platform/config"
	"github.com/pscheid92/aisrelay/internal/platform/logging"
	"github.com/pscheid92/aisrelay/internal/platform/version"
	"github.com/pscheid92/aisrelay/internal/relay"
	"github.com/pscheid92/aisrelay/internal/upstream"
	"golang.org/x/sync/errgroup"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "service", info.Service, "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	clock := clockwork.NewRealClock()

	reg := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	upstreamMetrics := metrics.NewUpstreamMetrics(reg)

	opts := relay.Options{
		Feed: upstream.Config{
			URL:            cfg.AISStreamURL,
			APIKey:         cfg.AISStreamAPIKey,
			ReconnectDelay: cfg.ReconnectDelay,
		},
		ConnectOnStart: cfg.ConnectOnStart,
	}
	service := relay.NewService(opts, clock, wsMetrics, upstreamMetrics)
	service.Start()

	srv := httpserver.NewServer(cfg, service, reg, wsMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		service.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/fireworks-tonight/internal/adapter/fireworks"
	httpadapter "github.com/couchcryptid/fireworks-tonight/internal/adapter/http"
	"github.com/couchcryptid/fireworks-tonight/internal/adapter/ics"
	"github.com/couchcryptid/fireworks-tonight/internal/calendar"
	"github.com/couchcryptid/fireworks-tonight/internal/config"
	"github.com/couchcryptid/fireworks-tonight/internal/domain"
	"github.com/couchcryptid/fireworks-tonight/internal/observability"
	"github.com/couchcryptid/fireworks-tonight/internal/refresh"
	"github.com/couchcryptid/fireworks-tonight/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Recover calendar state from the previous run so entries published
	// before a restart are reconciled rather than duplicated.
	states := calendar.NewStore(cfg.StatePath)
	seed, err := states.Load()
	if err != nil {
		logger.Error("failed to load calendar state", "error", err, "path", cfg.StatePath)
		os.Exit(1)
	}
	logger.Info("calendar state loaded", "entries", len(seed), "path", cfg.StatePath)

	fetcher := fireworks.NewClient(cfg, metrics, logger)
	sink := ics.NewSink(cfg.CalendarPath, cfg.CalendarName, seed, metrics, logger)

	reference := domain.Coordinates{Lat: cfg.HomeLatitude, Lon: cfg.HomeLongitude}
	refresher := refresh.New(fetcher, sink, states, reference, cfg.MaxDistanceKm, seed, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, refresher, refresher, logger)
	sched := scheduler.New(cfg.RefreshInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the refresh schedule.
	if err := sched.Start(ctx, refresher.RunCycle); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// Command registry runs the Registry service: asset identity matching,
// cross-provider mapping, index membership diffing, and mapping-suggestion
// scoring.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/instrumentdata/platform/internal/config"
	"github.com/instrumentdata/platform/internal/database"
	"github.com/instrumentdata/platform/internal/registry"
	"github.com/instrumentdata/platform/pkg/logger"
)

func main() {
	cfg, err := config.Load("REGISTRY_PORT", 8082)
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting registry")

	db, err := database.New(database.Config{DSN: cfg.DatabaseURL, Name: "registry"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}

	svc := registry.NewService(registry.Config{
		DB:             db,
		DataHubBaseURL: cfg.DataHubBaseURL,
		Log:            log,
	})

	ready := func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		return db.HealthCheck(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           svc.Router(log, cfg.DevMode, ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("registry listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("registry server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down registry")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("registry server forced to shutdown")
	}

	log.Info().Msg("registry stopped")
}

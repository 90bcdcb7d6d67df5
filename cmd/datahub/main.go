// Command datahub runs the DataHub service: provider lifecycle management,
// scheduled historical/live pulls, subscription reconciliation, and index
// constituent discovery.
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
	"github.com/instrumentdata/platform/internal/datahub"
	"github.com/instrumentdata/platform/internal/security"
	"github.com/instrumentdata/platform/pkg/logger"
)

func main() {
	cfg, err := config.Load("DATAHUB_PORT", 8081)
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting datahub")

	db, err := database.New(database.Config{DSN: cfg.DatabaseURL, Name: "datahub"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}

	systemContext, err := security.LoadSystemContext(cfg.SystemContextPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load system context secret")
	}

	svc := datahub.NewService(datahub.Config{
		DB:                   db,
		SystemContext:        systemContext,
		SandboxPrefix:        cfg.SandboxPrefix,
		RegistryBaseURL:      cfg.RegistryBaseURL,
		ReconcilerInterval:   cfg.ReconcilerInterval,
		ProviderSnapshotPath: cfg.ProviderSnapshotPath,
		Log:                  log,
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

	runCtx, cancelRun := context.WithCancel(context.Background())
	go svc.Start(runCtx)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("datahub listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("datahub server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down datahub")

	cancelRun()
	svc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("datahub server forced to shutdown")
	}

	log.Info().Msg("datahub stopped")
}

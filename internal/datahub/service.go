package datahub

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/calendar"
	"github.com/instrumentdata/platform/internal/database"
	"github.com/instrumentdata/platform/internal/httpkit"
	"github.com/instrumentdata/platform/internal/provider"
	"github.com/instrumentdata/platform/internal/scheduler"
	"github.com/instrumentdata/platform/internal/security"
)

// Service wires together DataHub's store, provider loader, scheduler,
// reconciler, and HTTP surface.
type Service struct {
	Store       *Store
	Loader      *provider.Loader
	Scheduler   *scheduler.Scheduler
	Dispatcher  *Dispatcher
	IndexSyncer *IndexSyncer
	Reconciler  *Reconciler
	Handlers    *Handlers

	snapshotPath string
}

// Config bundles Service's construction-time dependencies.
type Config struct {
	DB                 *database.DB
	SystemContext       *security.SystemContext
	SandboxPrefix       string
	RegistryBaseURL     string
	ReconcilerInterval  time.Duration
	ProviderSnapshotPath string
	Log                 zerolog.Logger
}

// NewService constructs a fully wired Service, ready to have its Router
// mounted and its Reconciler run.
func NewService(cfg Config) *Service {
	store := NewStore(cfg.DB)
	loader := provider.NewLoader(store, cfg.SystemContext, cfg.SandboxPrefix, cfg.Log)
	cal := calendar.NewRegistry()
	sched := scheduler.New(cfg.Log)
	dispatcher := NewDispatcher(store, loader, cal, cfg.Log)
	indexSyncer := NewIndexSyncer(loader, cfg.RegistryBaseURL, cfg.Log)
	reconciler := NewReconciler(store, loader, sched, dispatcher, indexSyncer, cfg.ReconcilerInterval, cfg.ProviderSnapshotPath, cfg.Log)
	handlers := NewHandlers(loader, cfg.SandboxPrefix, cfg.Log)

	return &Service{
		Store:        store,
		Loader:       loader,
		Scheduler:    sched,
		Dispatcher:   dispatcher,
		IndexSyncer:  indexSyncer,
		Reconciler:   reconciler,
		Handlers:     handlers,
		snapshotPath: cfg.ProviderSnapshotPath,
	}
}

// Router mounts DataHub's HTTP routes onto a fresh httpkit router.
func (s *Service) Router(log zerolog.Logger, devMode bool, ready httpkit.ReadyChecker) http.Handler {
	r := httpkit.NewRouter(log, devMode, ready)
	r.Route("/internal", func(r chi.Router) {
		r.Get("/providers/available-symbols", s.Handlers.HandleAvailableSymbols)
		r.Get("/providers/constituents", s.Handlers.HandleConstituents)
		r.Post("/provider/validate", s.Handlers.HandleValidate)
	})
	return r
}

// Start warms the provider loader from its last snapshot, then begins the
// scheduler and the reconciler's background tick loop. Run in a goroutine by
// cmd/datahub/main.go; returns when ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	if s.snapshotPath != "" {
		if err := s.Loader.WarmFromSnapshot(ctx, s.snapshotPath); err != nil {
			s.Reconciler.log.Warn().Err(err).Msg("warming provider loader from snapshot failed")
		}
	}
	s.Scheduler.Start()
	s.Reconciler.Run(ctx)
}

// Stop halts the scheduler without waiting for in-flight jobs.
func (s *Service) Stop() {
	s.Scheduler.Stop()
}

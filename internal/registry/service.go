package registry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/database"
	"github.com/instrumentdata/platform/internal/httpkit"
)

// Service wires together Registry's store, matcher, mapper, diff engine,
// scorer, pipeline, and HTTP surface.
type Service struct {
	Store      *Store
	DataHub    *DataHubClient
	Matcher    *Matcher
	Mapper     *Mapper
	DiffEngine *DiffEngine
	Scorer     *Scorer
	Pipeline   *Pipeline
	Handlers   *Handlers
}

// Config bundles Service's construction-time dependencies.
type Config struct {
	DB             *database.DB
	DataHubBaseURL string
	Log            zerolog.Logger
}

// NewService constructs a fully wired Service, ready to have its Router
// mounted. Unlike DataHub's Service, Registry has no background loop: the
// pipeline and membership sync run synchronously inside an HTTP request, and
// discovery reaches DataHub over HTTP rather than through an in-process
// provider.Loader.
func NewService(cfg Config) *Service {
	store := NewStore(cfg.DB)
	dataHub := NewDataHubClient(cfg.DataHubBaseURL, cfg.Log)
	matcher := NewMatcher(store, cfg.Log)
	mapper := NewMapper(store, cfg.Log)
	diffEngine := NewDiffEngine(store, cfg.Log)
	scorer := NewScorer(store, cfg.Log)
	pipeline := NewPipeline(store, dataHub, matcher, mapper, diffEngine, cfg.Log)
	handlers := NewHandlers(pipeline, diffEngine, store, scorer, cfg.Log)

	return &Service{
		Store:      store,
		DataHub:    dataHub,
		Matcher:    matcher,
		Mapper:     mapper,
		DiffEngine: diffEngine,
		Scorer:     scorer,
		Pipeline:   pipeline,
		Handlers:   handlers,
	}
}

// Router mounts Registry's HTTP routes onto a fresh httpkit router.
func (s *Service) Router(log zerolog.Logger, devMode bool, ready httpkit.ReadyChecker) http.Handler {
	r := httpkit.NewRouter(log, devMode, ready)
	r.Route("/api/registry", func(r chi.Router) {
		r.Post("/update-assets", s.Handlers.HandleUpdateAssets)
		r.Post("/update-all-assets", s.Handlers.HandleUpdateAllAssets)
		r.Post("/indices/{name}/sync", s.Handlers.HandleSyncIndex)
		r.Get("/suggestions", s.Handlers.HandleSuggestions)
	})
	return r
}

package registry

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/apperr"
	"github.com/instrumentdata/platform/internal/httpkit"
)

// Handlers implements Registry's HTTP surface: asset update fan-out, index
// membership sync, and mapping suggestions.
type Handlers struct {
	pipeline *Pipeline
	diff     *DiffEngine
	store    *Store
	scorer   *Scorer
	log      zerolog.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(pipeline *Pipeline, diff *DiffEngine, store *Store, scorer *Scorer, log zerolog.Logger) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		diff:     diff,
		store:    store,
		scorer:   scorer,
		log:      log.With().Str("component", "registry_handlers").Logger(),
	}
}

// HandleUpdateAssets serves POST /api/registry/update-assets.
func (h *Handlers) HandleUpdateAssets(w http.ResponseWriter, r *http.Request) {
	className := r.URL.Query().Get("class_name")
	classType := r.URL.Query().Get("class_type")
	if className == "" || classType == "" {
		httpkit.WriteError(w, apperr.Validation("class_name and class_type are required"))
		return
	}

	resp := h.pipeline.UpdateAssets(r.Context(), className, classType)
	if resp.Status == "error" {
		httpkit.WriteJSON(w, http.StatusBadGateway, resp)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, resp)
}

// HandleUpdateAllAssets serves POST /api/registry/update-all-assets.
func (h *Handlers) HandleUpdateAllAssets(w http.ResponseWriter, r *http.Request) {
	responses, err := h.pipeline.UpdateAllAssets(r.Context())
	if err != nil {
		httpkit.WriteError(w, apperr.Wrap(apperr.KindTransientDB, "listing providers failed", err))
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, itemsResponse{Items: responses})
}

type itemsResponse struct {
	Items any `json:"items"`
}

type syncIndexRequest struct {
	Constituents []struct {
		Symbol string   `json:"symbol"`
		Weight *float64 `json:"weight"`
	} `json:"constituents"`
}

type syncIndexResponse struct {
	MembersAdded     int `json:"members_added"`
	MembersRemoved   int `json:"members_removed"`
	MembersUnchanged int `json:"members_unchanged"`
}

// HandleSyncIndex serves POST /api/registry/indices/{name}/sync. It is fed
// by DataHub's IndexSyncer, so it always runs in SCD-Type-2 mode with source
// "api" and asset_symbol keying; in_place mode and common_symbol keying are
// reserved for user-edited indices, which are not reachable through this
// endpoint.
func (h *Handlers) HandleSyncIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		httpkit.WriteError(w, apperr.Validation("index name is required"))
		return
	}

	var req syncIndexRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, err)
		return
	}

	row, err := h.store.GetIndexProviderRow(r.Context(), name)
	if err != nil {
		httpkit.WriteError(w, apperr.Wrap(apperr.KindTransientDB, "looking up index registration failed", err))
		return
	}
	if row == nil {
		httpkit.WriteError(w, apperr.NotFound("index '"+name+"' is not a registered provider"))
		return
	}

	weights := make(map[string]*float64, len(req.Constituents))
	for _, c := range req.Constituents {
		weights[c.Symbol] = c.Weight
	}

	classType := row.ClassType
	var counters DiffCounters
	err = h.store.WithTransaction(r.Context(), func(tx *sqlx.Tx) error {
		var syncErr error
		counters, syncErr = h.diff.Sync(r.Context(), tx, DiffInput{
			IndexClassName: name,
			IndexClassType: classType,
			AssetClassName: &name,
			AssetClassType: &classType,
			Weights:        weights,
			Mode:           ModeSCDType2,
			Source:         "api",
			KeyKind:        MembershipKeyAsset,
		})
		return syncErr
	})
	if err != nil {
		httpkit.WriteError(w, apperr.Wrap(apperr.KindTransientDB, "syncing index membership failed", err))
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, syncIndexResponse{
		MembersAdded:     counters.Added,
		MembersRemoved:   counters.Removed,
		MembersUnchanged: counters.Unchanged,
	})
}

// HandleSuggestions serves GET /api/registry/suggestions.
func (h *Handlers) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sq := SuggestionQuery{
		SourceClass:  q.Get("source_class"),
		TargetClass:  q.Get("target_class"),
		Search:       q.Get("search"),
		IncludeTotal: q.Get("include_total") == "true",
	}
	if v := q.Get("min_score"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			httpkit.WriteError(w, apperr.Validation("min_score must be a number"))
			return
		}
		sq.MinScore = parsed
	}
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			httpkit.WriteError(w, apperr.Validation("limit must be an integer"))
			return
		}
		sq.Limit = parsed
	}
	if v := q.Get("cursor"); v != "" {
		cursor, err := DecodeCursor(v)
		if err != nil {
			httpkit.WriteError(w, apperr.Validation("invalid cursor"))
			return
		}
		sq.Cursor = &cursor
	}

	result, err := h.scorer.Suggestions(r.Context(), sq)
	if err != nil {
		httpkit.WriteError(w, apperr.Wrap(apperr.KindTransientDB, "computing suggestions failed", err))
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"items":       result.Items,
		"has_more":    result.HasMore,
		"next_cursor": result.NextCursor,
		"total":       result.Total,
	})
}

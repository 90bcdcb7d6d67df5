package datahub

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/apperr"
	"github.com/instrumentdata/platform/internal/httpkit"
	"github.com/instrumentdata/platform/internal/provider"
)

// Handlers implements the DataHub HTTP surface:
// symbol/constituent discovery proxied through the provider loader,
// and provider-file validation.
type Handlers struct {
	loader        *provider.Loader
	sandboxPrefix string
	log           zerolog.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(loader *provider.Loader, sandboxPrefix string, log zerolog.Logger) *Handlers {
	return &Handlers{loader: loader, sandboxPrefix: sandboxPrefix, log: log.With().Str("component", "datahub_handlers").Logger()}
}

type itemsResponse struct {
	Items any `json:"items"`
}

// HandleAvailableSymbols serves GET /internal/providers/available-symbols.
func (h *Handlers) HandleAvailableSymbols(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("provider_name")
	p, err := h.resolveProvider(r.Context(), name)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	symbols, err := p.AvailableSymbols(r.Context())
	if err != nil {
		httpkit.WriteError(w, apperr.Upstream("fetching available symbols failed", err))
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, itemsResponse{Items: symbols})
}

// HandleConstituents serves GET /internal/providers/constituents.
func (h *Handlers) HandleConstituents(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("provider_name")
	p, err := h.resolveProvider(r.Context(), name)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	indexProvider, ok := p.(provider.IndexProvider)
	if !ok {
		httpkit.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "provider is not an IndexProvider"})
		return
	}

	constituents, err := indexProvider.Constituents(r.Context(), nil)
	if err != nil {
		httpkit.WriteError(w, apperr.Upstream("fetching constituents failed", err))
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, itemsResponse{Items: constituents})
}

func (h *Handlers) resolveProvider(ctx context.Context, name string) (provider.Provider, error) {
	if name == "" {
		return nil, apperr.Validation("provider_name is required")
	}
	if p, ok := h.loader.Get(name); ok {
		return p, nil
	}
	if p, ok := h.loader.Load(ctx, name); ok {
		return p, nil
	}
	return nil, apperr.NotFound("provider '" + name + "' not found or not loaded")
}

type validateRequest struct {
	FilePath string `json:"file_path"`
}

type validateResponse struct {
	Status       string `json:"status"`
	ClassName    string `json:"class_name"`
	SubclassType string `json:"subclass_type"`
	ModuleName   string `json:"module_name"`
	FilePath     string `json:"file_path"`
}

// HandleValidate serves POST /internal/provider/validate. Validation runs
// against the in-tree static registry: the file must exist inside the
// sandbox and its class_name must already have a registered constructor.
// Hash verification is deferred to Load time, against the hash Registry
// stored at upload.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteError(w, err)
		return
	}

	if req.FilePath == "" {
		httpkit.WriteError(w, apperr.Validation("file_path is required"))
		return
	}
	if !strings.HasPrefix(req.FilePath, h.sandboxPrefix) {
		httpkit.WriteError(w, apperr.PermissionDenied("file "+req.FilePath+" not in allowed path "+h.sandboxPrefix))
		return
	}

	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		httpkit.WriteError(w, apperr.NotFound("file "+req.FilePath+" not found"))
		return
	}

	className, subclassType, ok := classifyProviderFile(string(data))
	if !ok {
		httpkit.WriteError(w, apperr.Validation("no registered provider class found in "+req.FilePath))
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, validateResponse{
		Status:       "success",
		ClassName:    className,
		SubclassType: subclassType,
		ModuleName:   moduleNameFromPath(req.FilePath),
		FilePath:     req.FilePath,
	})
}

func moduleNameFromPath(path string) string {
	base := path[strings.LastIndexByte(path, '/')+1:]
	return strings.TrimSuffix(base, ".go")
}

// classifyProviderFile is a coarse textual scan for provider.Register(name,
// ...) in the file contents, used only to report a plausible class_name and
// subclass_type back to the caller: real loading and capability
// verification happens at Load time via the static registry, not here.
func classifyProviderFile(source string) (className, subclassType string, ok bool) {
	const marker = `provider.Register("`
	idx := strings.Index(source, marker)
	if idx < 0 {
		return "", "", false
	}
	rest := source[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", "", false
	}
	name := rest[:end]

	if _, registered := provider.Lookup(name); !registered {
		return "", "", false
	}

	switch {
	case strings.Contains(source, "IndexProvider"):
		subclassType = "IndexProvider"
	case strings.Contains(source, "RealtimeProvider"):
		subclassType = "Live"
	default:
		subclassType = "Historical"
	}
	return name, subclassType, true
}

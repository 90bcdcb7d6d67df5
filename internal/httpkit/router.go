// Package httpkit provides the chi-based router/middleware setup shared by
// the DataHub and Registry HTTP servers, and the JSON response helpers that
// translate *apperr.Error into HTTP status codes.
package httpkit

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ReadyChecker reports whether the service's dependencies (database, etc.)
// are ready to serve traffic.
type ReadyChecker func(r *http.Request) error

// NewRouter builds a chi.Mux with the shared middleware stack
// (Recoverer, RequestID, RealIP, structured logging, Timeout, CORS, and
// conditional Compress), plus /healthz and /readyz.
func NewRouter(log zerolog.Logger, devMode bool, ready ReadyChecker) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		r.Use(middleware.Compress(5))
	}

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(ready))

	return r
}

// healthzResponse reports process liveness plus coarse resource usage, so an
// operator can tell "up" apart from "up but about to OOM or fill disk".
type healthzResponse struct {
	Status        string  `json:"status"`
	MemUsedPct    float64 `json:"mem_used_percent"`
	DiskUsedPct   float64 `json:"disk_used_percent"`
	ResourceError string  `json:"resource_error,omitempty"`
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok"}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPct = vm.UsedPercent
	} else {
		resp.ResourceError = "mem: " + err.Error()
	}

	if du, err := disk.Usage("/"); err == nil {
		resp.DiskUsedPct = du.UsedPercent
	} else if resp.ResourceError == "" {
		resp.ResourceError = "disk: " + err.Error()
	}

	WriteJSON(w, http.StatusOK, resp)
}

func handleReadyz(ready ReadyChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		if err := ready(r); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func loggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration_ms", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

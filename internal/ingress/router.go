// Package ingress implements C11: the HTTP entrypoint that accepts a
// label image submission, stages it through encryption and storage,
// and enqueues it for the executor. It also serves job status lookups
// and a liveness check over C4/C3.
package ingress

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ttbverify/labelverify/internal/config"
	"github.com/ttbverify/labelverify/internal/httpmw"
)

// NewRouter builds the ingress HTTP handler: verify submission, status
// lookup, health, and version.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(httpmw.Logger)
	r.Use(httpmw.Telemetry)

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/verify", func(r chi.Router) {
			r.Post("/", h.Submit)
			r.Get("/{jobID}", h.Status)
		})
	})

	return r
}

func parseCORSOrigins() []string {
	originsEnv := os.Getenv("LABELVERIFY_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "labelverify-ingress",
		})
	}
}

// Health pings the job store and queue; a real operable liveness check
// rather than an unconditional 200 (spec §6).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Jobs.Ping(ctx); err != nil {
		writeHealthFailure(w, "jobstore", err)
		return
	}
	if err := h.Queue.Ping(ctx); err != nil {
		writeHealthFailure(w, "queue", err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func writeHealthFailure(w http.ResponseWriter, dependency string, err error) {
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "unhealthy",
		"dependency": dependency,
		"error":      err.Error(),
	})
}

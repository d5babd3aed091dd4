package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/arcrouter/control-plane/internal/api/handlers"
	"github.com/arcrouter/control-plane/internal/api/middleware"
	"github.com/arcrouter/control-plane/internal/config"
)

// NewRouter creates the HTTP router with every SPEC_FULL.md §6 route and
// its middleware chain.
func NewRouter(cfg *config.Config, facade handlers.Facade) http.Handler {
	r := chi.NewRouter()
	h := handlers.New(facade)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.SourceIdentity)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Source-Id", "X-Request-Id", "traceparent", "tracestate"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Route-Id", "X-Route-Cache", "X-Resolved-Model", "Router-Latency"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Get("/version", versionHandler(cfg))

	r.Post("/route/plan", h.RoutePlan)
	r.Post("/route/feedback", h.RouteFeedback)
	r.Get("/catalog/models", h.CatalogModels)
	r.Get("/policy", h.Policy)
	r.Get("/capabilities", h.Capabilities)
	r.Get("/stats", h.Stats)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/policy", h.AdminReloadPolicy)
		r.Post("/catalog", h.AdminReloadCatalog)
		r.Post("/overlays/reload", h.AdminReloadOverlays)
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "arcrouter-control-plane",
		})
	}
}

// Package server provides the public entry point for initializing the
// router control plane: wiring config, every planner component, and the
// HTTP facade into one ready-to-serve Server.
//
// This package exists in pkg/ (not internal/) so a downstream
// distribution can import it and compose the full server with its own
// overrides, the same seam the teacher's server package drew around its
// OSS/Pro boundary.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(srv.Bind, srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arcrouter/control-plane/internal/api"
	"github.com/arcrouter/control-plane/internal/cache"
	"github.com/arcrouter/control-plane/internal/catalog"
	"github.com/arcrouter/control-plane/internal/config"
	"github.com/arcrouter/control-plane/internal/embeddings"
	"github.com/arcrouter/control-plane/internal/engine"
	"github.com/arcrouter/control-plane/internal/health"
	"github.com/arcrouter/control-plane/internal/journal"
	"github.com/arcrouter/control-plane/internal/overlay"
	"github.com/arcrouter/control-plane/internal/policy"
	"github.com/arcrouter/control-plane/internal/stats"
	"github.com/arcrouter/control-plane/internal/stickiness"
	"github.com/arcrouter/control-plane/internal/telemetry"
	"github.com/arcrouter/control-plane/pkg/contracts"
	"github.com/arcrouter/control-plane/pkg/models"
)

// Server holds every initialized component of the router control plane.
type Server struct {
	Handler http.Handler
	Bind    string
	Config  *config.Config

	Engine   *engine.Engine
	Catalog  *catalog.Store
	Policy   *policy.Store
	Overlays *overlay.Store
	Stats    *stats.Aggregator
	journal  *journal.Journal

	ShutdownFunc func(context.Context) error
}

// New initializes every component from environment configuration and
// returns a ready Server. Missing policy/catalog files are logged as
// warnings, not fatal — the planner reports CATALOG_UNAVAILABLE until an
// admin reload supplies them.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	catStore := catalog.New()
	polStore := policy.New()
	ovlStore := overlay.New(cfg.Overlay.Dir)
	healthTracker := health.New()
	stickyMgr := stickiness.NewManager([]byte(cfg.Sticky.Secret))
	planCache := cache.New(cfg.Cache.Capacity)
	statsAgg := stats.New()

	embedRuntime, err := buildEmbeddingsRuntime(ctx, cfg.Embed)
	if err != nil {
		log.Warn().Err(err).Msg("embeddings runtime disabled: initialization failed")
		embedRuntime = nil
	}

	j, err := journal.Open(ctx, cfg.Journal.DSN)
	if err != nil {
		log.Warn().Err(err).Msg("reload journal disabled: connection failed")
		j = nil
	}

	eng := engine.New(engine.Config{
		MaxBodyBytes:         1 << 20,
		PlanRateBurst:        cfg.RateLimit.Burst,
		PlanRateRefillPerSec: cfg.RateLimit.RefillPerSec,
		DefaultCacheTTLMs:    cfg.Cache.TTLMs,
		DefaultCacheStaleMs:  cfg.Cache.StaleMs,
		EmbeddingsEnabled:    cfg.Embed.Enabled && embedRuntime != nil,
	}, catStore, polStore, ovlStore, healthTracker, stickyMgr, planCache, statsAgg, embedRuntime)

	srv := &Server{
		Bind:         cfg.Bind,
		Config:       cfg,
		Engine:       eng,
		Catalog:      catStore,
		Policy:       polStore,
		Overlays:     ovlStore,
		Stats:        statsAgg,
		journal:      j,
		ShutdownFunc: shutdown,
	}

	srv.bootstrap(ctx)

	srv.Handler = api.NewRouter(cfg, srv)
	return srv, nil
}

func buildEmbeddingsRuntime(ctx context.Context, cfg config.EmbeddingsConfig) (*embeddings.Runtime, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	registry := embeddings.NewRegistry()
	var backend embeddings.Backend
	switch cfg.Backend {
	case "openai":
		backend = embeddings.NewOpenAIDriver(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case "hashed":
		if !cfg.AllowHashed {
			return nil, fmt.Errorf("hashed backend requires ROUTER_EMBEDDINGS_ALLOW_HASHED=true")
		}
		backend = embeddings.HashingBackend{}
	default:
		backend = embeddings.NewOllamaDriver(cfg.OllamaURL, cfg.OllamaModel)
	}
	registry.Register(cfg.Backend, backend)

	router, err := embeddings.LoadRouter(ctx, cfg.TaskBankPath, backend, cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("load canonical task bank: %w", err)
	}

	embedCache := embeddings.NewCache(time.Duration(cfg.CacheTTLMs) * time.Millisecond)
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	return embeddings.NewRuntime(backend, router, embedCache, timeout), nil
}

// bootstrap performs the initial policy/catalog/overlay load at startup.
func (s *Server) bootstrap(ctx context.Context) {
	if catDoc, err := config.LoadCatalogDocument(s.Config.Catalog.Path); err != nil {
		log.Warn().Err(err).Str("path", s.Config.Catalog.Path).Msg("initial catalog load failed; awaiting admin reload")
	} else if err := s.ReloadCatalog(ctx, catDoc); err != nil {
		log.Warn().Err(err).Msg("initial catalog reload rejected")
	}

	if polDoc, err := config.LoadPolicyDocument(s.Config.Policy.Path); err != nil {
		log.Warn().Err(err).Str("path", s.Config.Policy.Path).Msg("initial policy load failed; awaiting admin reload")
	} else if err := s.ReloadPolicy(ctx, polDoc); err != nil {
		log.Warn().Err(err).Msg("initial policy reload rejected")
	}

	if err := s.Overlays.Reload(); err != nil {
		log.Warn().Err(err).Msg("initial overlay load failed; awaiting admin reload")
	}
}

// Plan runs the planner for one route request.
func (s *Server) Plan(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, *engine.ResponseMeta, error) {
	return s.Engine.Plan(ctx, req, sourceIdentity)
}

// RecordFeedback folds realized latency/success into health tracking.
func (s *Server) RecordFeedback(_ context.Context, fb models.RouteFeedback) error {
	s.Engine.Health.Update(fb)
	return nil
}

// ReloadPolicy validates and swaps in a new policy document, invalidating
// the plan cache and journaling the event.
func (s *Server) ReloadPolicy(ctx context.Context, doc models.PolicyDocument) error {
	resolvable := func(id string) bool {
		_, ok := s.Catalog.Snapshot().Lookup(id)
		return ok
	}
	if !s.Catalog.Snapshot().Loaded() {
		resolvable = nil
	}
	if err := s.Policy.Reload(doc, resolvable); err != nil {
		return err
	}
	s.Engine.Cache.Clear()
	s.journal.Record(ctx, "policy", s.Policy.Snapshot().Doc.Revision, "")
	return nil
}

// ReloadCatalog swaps in a new catalog document, invalidating the plan
// cache and journaling the event.
func (s *Server) ReloadCatalog(ctx context.Context, doc models.CatalogDocument) error {
	if err := s.Catalog.Reload(doc); err != nil {
		return err
	}
	s.Engine.Cache.Clear()
	s.journal.Record(ctx, "catalog", s.Catalog.Snapshot().Revision, "")
	return nil
}

// ReloadOverlays re-reads the overlay directory, invalidating the plan
// cache and journaling the event.
func (s *Server) ReloadOverlays(ctx context.Context) error {
	if err := s.Overlays.Reload(); err != nil {
		return err
	}
	s.Engine.Cache.Clear()
	s.journal.Record(ctx, "overlays", "", s.Config.Overlay.Dir)
	return nil
}

// PolicyDocument renders the currently active policy document.
func (s *Server) PolicyDocument() models.PolicyDocument {
	return s.Policy.Snapshot().Doc
}

// CatalogDocument renders the currently active catalog document.
func (s *Server) CatalogDocument() models.CatalogDocument {
	return s.Catalog.Snapshot().Document()
}

// StatsSnapshot renders the current aggregate counters.
func (s *Server) StatsSnapshot() models.RouterStats {
	return s.Stats.Snapshot()
}

// Capabilities renders the GET /capabilities response body.
func (s *Server) Capabilities() models.CapabilitiesResponse {
	pol := s.Policy.Snapshot()
	return models.CapabilitiesResponse{
		SchemaVersion: models.SchemaVersion,
		PrivacyModes:  []string{"features_only", "summary", "full"},
		Stickiness: models.CapabilitiesStickiness{
			Supported: true,
			MaxTurns:  pol.Doc.Defaults.Stickiness.MaxTurns,
			WindowMs:  pol.Doc.Defaults.Stickiness.WindowMs,
		},
		Batch:           models.CapabilitiesFlag{Supported: false},
		Prefetch:        models.CapabilitiesFlag{Supported: false},
		ProviderHeaders: true,
	}
}

// Healthz renders the GET /healthz response body.
func (s *Server) Healthz() models.HealthzResponse {
	status := "ok"
	pol, cat := s.Policy.Snapshot(), s.Catalog.Snapshot()
	if !pol.Loaded() || !cat.Loaded() {
		status = "degraded"
	}
	return models.HealthzResponse{
		Status:          status,
		PolicyRevision:  pol.Doc.Revision,
		CatalogRevision: cat.Revision,
		Timestamp:       time.Now().UTC(),
	}
}

// Close releases the journal connection pool, if any.
func (s *Server) Close() {
	s.journal.Close()
}

// ContractAdapter narrows a Server down to the pkg/contracts boundary
// interfaces, for a downstream distribution that composes against those
// instead of the richer concrete Server.
type ContractAdapter struct{ *Server }

// Plan satisfies contracts.Planner, discarding the ResponseMeta headers
// use — a Pro distribution that only needs the plan body itself.
func (a ContractAdapter) Plan(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, error) {
	plan, _, err := a.Server.Plan(ctx, req, sourceIdentity)
	return plan, err
}

// Stats satisfies contracts.StatsProvider.
func (a ContractAdapter) Stats() models.RouterStats {
	return a.Server.StatsSnapshot()
}

var (
	_ contracts.Planner             = ContractAdapter{}
	_ contracts.Reloader            = ContractAdapter{}
	_ contracts.StatsProvider       = ContractAdapter{}
	_ contracts.CapabilitiesProvider = ContractAdapter{}
)

// Package handlers implements the HTTP surface described in
// SPEC_FULL.md §6: POST /route/plan, POST /route/feedback,
// GET /catalog/models, GET /policy, GET /capabilities, GET /stats,
// GET /healthz, and the admin reload endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/arcrouter/control-plane/internal/api/middleware"
	"github.com/arcrouter/control-plane/internal/apperr"
	"github.com/arcrouter/control-plane/internal/engine"
	"github.com/arcrouter/control-plane/pkg/models"
)

// Facade is everything the HTTP layer needs from the composition root.
// Kept as an interface (rather than importing *server.Server directly) so
// handlers stay testable against a fake.
type Facade interface {
	Plan(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, *engine.ResponseMeta, error)
	RecordFeedback(ctx context.Context, fb models.RouteFeedback) error
	ReloadPolicy(ctx context.Context, doc models.PolicyDocument) error
	ReloadCatalog(ctx context.Context, doc models.CatalogDocument) error
	ReloadOverlays(ctx context.Context) error
	StatsSnapshot() models.RouterStats
	Capabilities() models.CapabilitiesResponse
	Healthz() models.HealthzResponse
	PolicyDocument() models.PolicyDocument
	CatalogDocument() models.CatalogDocument
}

// Handlers holds the Facade every route handler dispatches through.
type Handlers struct {
	facade Facade
}

// New builds a Handlers bound to facade.
func New(facade Facade) *Handlers {
	return &Handlers{facade: facade}
}

// RoutePlan handles POST /route/plan.
func (h *Handlers) RoutePlan(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "", apperr.NewInvalidRequest("malformed JSON body: "+err.Error()))
		return
	}

	sourceIdentity := middleware.GetSourceIdentity(r.Context())
	plan, meta, err := h.facade.Plan(r.Context(), req, sourceIdentity)
	if err != nil {
		writeError(w, req.RequestID, err)
		return
	}

	writePlanHeaders(w, meta)
	writeJSON(w, http.StatusOK, plan)
}

// RouteFeedback handles POST /route/feedback.
func (h *Handlers) RouteFeedback(w http.ResponseWriter, r *http.Request) {
	var fb models.RouteFeedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, "", apperr.NewInvalidRequest("malformed JSON body: "+err.Error()))
		return
	}
	if fb.RouteID == "" || fb.ModelID == "" {
		writeError(w, "", apperr.NewInvalidRequest("route_id and model_id are required"))
		return
	}
	if err := h.facade.RecordFeedback(r.Context(), fb); err != nil {
		writeError(w, "", apperr.NewInternal(err.Error()))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CatalogModels handles GET /catalog/models.
func (h *Handlers) CatalogModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.CatalogDocument())
}

// Policy handles GET /policy.
func (h *Handlers) Policy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.PolicyDocument())
}

// Capabilities handles GET /capabilities.
func (h *Handlers) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.Capabilities())
}

// Stats handles GET /stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.StatsSnapshot())
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.Healthz())
}

// AdminReloadPolicy handles POST /admin/policy.
func (h *Handlers) AdminReloadPolicy(w http.ResponseWriter, r *http.Request) {
	var doc models.PolicyDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, "", apperr.NewInvalidRequest("malformed JSON body: "+err.Error()))
		return
	}
	if err := h.facade.ReloadPolicy(r.Context(), doc); err != nil {
		writeError(w, "", apperr.NewPlanningFailed(err.Error()))
		return
	}
	log.Info().Str("revision", doc.Revision).Msg("policy reloaded")
	w.WriteHeader(http.StatusNoContent)
}

// AdminReloadCatalog handles POST /admin/catalog.
func (h *Handlers) AdminReloadCatalog(w http.ResponseWriter, r *http.Request) {
	var doc models.CatalogDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, "", apperr.NewInvalidRequest("malformed JSON body: "+err.Error()))
		return
	}
	if err := h.facade.ReloadCatalog(r.Context(), doc); err != nil {
		writeError(w, "", apperr.NewPlanningFailed(err.Error()))
		return
	}
	log.Info().Str("revision", doc.Revision).Msg("catalog reloaded")
	w.WriteHeader(http.StatusNoContent)
}

// AdminReloadOverlays handles POST /admin/overlays/reload.
func (h *Handlers) AdminReloadOverlays(w http.ResponseWriter, r *http.Request) {
	if err := h.facade.ReloadOverlays(r.Context()); err != nil {
		writeError(w, "", apperr.NewPlanningFailed(err.Error()))
		return
	}
	log.Info().Msg("overlays reloaded")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.NewInternal(err.Error())
	}
	env := models.ErrorEnvelope{
		SchemaVersion: models.SchemaVersion,
		Code:          string(appErr.Code),
		Message:       appErr.Message,
		RequestID:     requestID,
		RetryHintMs:   appErr.RetryHintMs,
		Supported:     appErr.Supported,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(env)
}

// writePlanHeaders renders the required and conditional response headers
// described in SPEC_FULL.md §6.
func writePlanHeaders(w http.ResponseWriter, meta *engine.ResponseMeta) {
	h := w.Header()
	h.Set("Router-Schema", models.SchemaVersion)
	h.Set("Router-Latency", strconv.FormatInt(meta.LatencyMs, 10))
	h.Set("Config-Revision", meta.ConfigRevision)
	h.Set("Catalog-Revision", meta.CatalogRevision)
	h.Set("X-Route-Cache", string(meta.CacheStatus))
	h.Set("X-Resolved-Model", meta.ResolvedModel)
	h.Set("X-Route-Id", meta.RouteID)
	h.Set("X-Policy-Rev", meta.PolicyRev)
	h.Set("X-Content-Used", string(meta.ContentUsed))

	if meta.Tier != "" {
		h.Set("X-Route-Tier", meta.Tier)
	}
	if meta.Provider != "" {
		h.Set("X-Route-Provider", meta.Provider)
	}
	if meta.Why != "" {
		h.Set("X-Route-Why", meta.Why)
	}
	if meta.CanonicalModel != "" {
		h.Set("X-Canonical-Model", meta.CanonicalModel)
		h.Set("X-Canonical-Score", strconv.FormatFloat(meta.CanonicalScore, 'f', 3, 64))
	}
	if meta.Traceparent != "" {
		h.Set("traceparent", meta.Traceparent)
	}
	if meta.Tracestate != "" {
		h.Set("tracestate", meta.Tracestate)
	}
}

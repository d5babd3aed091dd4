package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/api/handlers"
	"github.com/arcrouter/control-plane/internal/apperr"
	"github.com/arcrouter/control-plane/internal/engine"
	"github.com/arcrouter/control-plane/pkg/models"
)

// fakeFacade implements handlers.Facade for HTTP-layer tests, independent
// of a real engine/catalog/policy wiring.
type fakeFacade struct {
	planFn           func(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, *engine.ResponseMeta, error)
	feedbackErr      error
	reloadPolicyErr  error
	reloadCatalogErr error
	reloadOverlayErr error
	stats            models.RouterStats
	caps             models.CapabilitiesResponse
	health           models.HealthzResponse
	policyDoc        models.PolicyDocument
	catalogDoc       models.CatalogDocument
}

func (f *fakeFacade) Plan(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, *engine.ResponseMeta, error) {
	return f.planFn(ctx, req, sourceIdentity)
}
func (f *fakeFacade) RecordFeedback(ctx context.Context, fb models.RouteFeedback) error {
	return f.feedbackErr
}
func (f *fakeFacade) ReloadPolicy(ctx context.Context, doc models.PolicyDocument) error {
	return f.reloadPolicyErr
}
func (f *fakeFacade) ReloadCatalog(ctx context.Context, doc models.CatalogDocument) error {
	return f.reloadCatalogErr
}
func (f *fakeFacade) ReloadOverlays(ctx context.Context) error { return f.reloadOverlayErr }
func (f *fakeFacade) StatsSnapshot() models.RouterStats        { return f.stats }
func (f *fakeFacade) Capabilities() models.CapabilitiesResponse { return f.caps }
func (f *fakeFacade) Healthz() models.HealthzResponse           { return f.health }
func (f *fakeFacade) PolicyDocument() models.PolicyDocument     { return f.policyDoc }
func (f *fakeFacade) CatalogDocument() models.CatalogDocument   { return f.catalogDoc }

func doRequest(t *testing.T, h http.HandlerFunc, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/whatever", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestRoutePlanReturns200AndHeadersOnSuccess(t *testing.T) {
	plan := &models.RoutePlan{SchemaVersion: models.SchemaVersion, RouteID: "r1", Upstream: models.ModelMetadataID{ModelID: "model-a"}}
	meta := &engine.ResponseMeta{CacheStatus: models.CacheMiss, ResolvedModel: "model-a", RouteID: "r1", PolicyRev: "pol-1"}
	f := &fakeFacade{planFn: func(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, *engine.ResponseMeta, error) {
		return plan, meta, nil
	}}
	h := handlers.New(f)

	rec := doRequest(t, h.RoutePlan, http.MethodPost, `{"request_id":"r1","alias":"default"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model-a", rec.Header().Get("X-Resolved-Model"))
	assert.Equal(t, "miss", rec.Header().Get("X-Route-Cache"))

	var got models.RoutePlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.RouteID)
}

func TestRoutePlanReturnsTypedErrorEnvelope(t *testing.T) {
	f := &fakeFacade{planFn: func(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, *engine.ResponseMeta, error) {
		return nil, nil, apperr.NewAliasUnknown("ghost")
	}}
	h := handlers.New(f)

	rec := doRequest(t, h.RoutePlan, http.MethodPost, `{"request_id":"r1","alias":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var env models.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "ALIAS_UNKNOWN", env.Code)
	assert.Equal(t, models.SchemaVersion, env.SchemaVersion)
}

func TestRoutePlanRejectsMalformedJSON(t *testing.T) {
	f := &fakeFacade{}
	h := handlers.New(f)

	rec := doRequest(t, h.RoutePlan, http.MethodPost, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env models.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "INVALID_REQUEST", env.Code)
}

func TestRouteFeedbackRequiresRouteAndModelID(t *testing.T) {
	f := &fakeFacade{}
	h := handlers.New(f)

	rec := doRequest(t, h.RouteFeedback, http.MethodPost, `{"success":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteFeedbackAccepted(t *testing.T) {
	f := &fakeFacade{}
	h := handlers.New(f)

	rec := doRequest(t, h.RouteFeedback, http.MethodPost, `{"route_id":"r1","model_id":"model-a","success":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStatsReturnsSnapshot(t *testing.T) {
	f := &fakeFacade{stats: models.RouterStats{TotalRequests: 10}}
	h := handlers.New(f)

	rec := doRequest(t, h.Stats, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats models.RouterStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(10), stats.TotalRequests)
}

func TestHealthzReturnsSnapshot(t *testing.T) {
	f := &fakeFacade{health: models.HealthzResponse{Status: "ok", PolicyRevision: "pol-1"}}
	h := handlers.New(f)

	rec := doRequest(t, h.Healthz, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var hz models.HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hz))
	assert.Equal(t, "ok", hz.Status)
}

func TestAdminReloadPolicySucceeds(t *testing.T) {
	f := &fakeFacade{}
	h := handlers.New(f)

	rec := doRequest(t, h.AdminReloadPolicy, http.MethodPost, `{"revision":"pol-2","aliases":{}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminReloadPolicyFailurePropagatesAsPlanningFailed(t *testing.T) {
	f := &fakeFacade{reloadPolicyErr: assertError("boom")}
	h := handlers.New(f)

	rec := doRequest(t, h.AdminReloadPolicy, http.MethodPost, `{"revision":"pol-2","aliases":{}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env models.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "PLANNING_FAILED", env.Code)
}

type assertError string

func (e assertError) Error() string { return string(e) }

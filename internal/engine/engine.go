// Package engine implements the planner: the orchestration described in
// SPEC_FULL.md §4.H — validate, alias lookup, sticky intake, embedding
// bias, cache lookup, candidate filter, score, assemble, cache insert,
// sticky issue. Everything else in this repository exists to feed this
// one operation.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arcrouter/control-plane/internal/apperr"
	"github.com/arcrouter/control-plane/internal/cache"
	"github.com/arcrouter/control-plane/internal/catalog"
	"github.com/arcrouter/control-plane/internal/embeddings"
	"github.com/arcrouter/control-plane/internal/health"
	"github.com/arcrouter/control-plane/internal/overlay"
	"github.com/arcrouter/control-plane/internal/policy"
	"github.com/arcrouter/control-plane/internal/ratelimit"
	"github.com/arcrouter/control-plane/internal/stats"
	"github.com/arcrouter/control-plane/internal/stickiness"
	"github.com/arcrouter/control-plane/pkg/models"
)

// Config carries the planner-wide numeric defaults not owned by any one
// policy document — cache sizing, rate limiting, embedding opt-in — the
// things SPEC_FULL.md's configuration section lists as ROUTER_* env vars.
type Config struct {
	MaxBodyBytes         int64
	PlanRateBurst        int
	PlanRateRefillPerSec float64
	DefaultCacheTTLMs    int64
	DefaultCacheStaleMs  int64
	EmbeddingsEnabled    bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:         1 << 20,
		PlanRateBurst:        64,
		PlanRateRefillPerSec: 32,
		DefaultCacheTTLMs:    15000,
		DefaultCacheStaleMs:  15000,
		EmbeddingsEnabled:    false,
	}
}

// Engine holds every component the planner orchestrates. All fields are
// safe for concurrent use; the Engine itself holds no mutable state of
// its own beyond what its components already protect.
type Engine struct {
	cfg        Config
	Catalog    *catalog.Store
	Policy     *policy.Store
	Overlays   *overlay.Store
	Health     *health.Tracker
	Sticky     *stickiness.Manager
	Cache      *cache.Cache
	Stats      *stats.Aggregator
	Embeddings *embeddings.Runtime // nil when disabled
	Limiter    *ratelimit.Limiter
}

// New assembles an Engine from its components.
func New(cfg Config, cat *catalog.Store, pol *policy.Store, ovl *overlay.Store, ht *health.Tracker, sticky *stickiness.Manager, ch *cache.Cache, st *stats.Aggregator, embed *embeddings.Runtime) *Engine {
	return &Engine{
		cfg:        cfg,
		Catalog:    cat,
		Policy:     pol,
		Overlays:   ovl,
		Health:     ht,
		Sticky:     sticky,
		Cache:      ch,
		Stats:      st,
		Embeddings: embed,
		Limiter:    ratelimit.New(cfg.PlanRateBurst, cfg.PlanRateRefillPerSec),
	}
}

// ResponseMeta carries everything the HTTP facade needs to render
// headers, independent of the RoutePlan body itself.
type ResponseMeta struct {
	CacheStatus    models.CacheStatus
	LatencyMs      int64
	ConfigRevision string
	CatalogRevision string
	ResolvedModel  string
	RouteID        string
	PolicyRev      string
	ContentUsed    models.ContentLevel
	Tier           string
	Provider       string
	Why            string
	CanonicalModel string
	CanonicalIDs   []string
	CanonicalScore float64
	Traceparent    string
	Tracestate     string
}

// Plan is the single operation this whole repository exists to support:
// req → (RoutePlan, ResponseMeta) or a typed *apperr.Error.
func (e *Engine) Plan(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, *ResponseMeta, error) {
	start := time.Now()

	if err := e.validate(req, sourceIdentity); err != nil {
		return nil, nil, err
	}

	polSnap := e.Policy.Snapshot()
	catSnap := e.Catalog.Snapshot()
	if !polSnap.Loaded() || !catSnap.Loaded() {
		return nil, nil, apperr.NewCatalogUnavailable()
	}

	alias, ok := polSnap.Lookup(req.Alias)
	if !ok {
		return nil, nil, apperr.NewAliasUnknown(req.Alias)
	}

	promptTokens, outputTokens := estimateTokens(req, polSnap.Doc.Defaults)

	// ── sticky intake ──────────────────────────────────────────
	var pinnedModel string
	var stickyClaims *stickiness.Claims
	stickyDropReason := ""
	if req.Overrides != nil && req.Overrides.PlanToken != "" {
		claims, verr := e.Sticky.Verify(req.Overrides.PlanToken, start, polSnap.Doc.Revision)
		if verr != nil {
			ve, _ := verr.(*stickiness.VerifyError)
			reason := "bad signature"
			if ve != nil {
				reason = string(ve.Reason)
			}
			return nil, nil, apperr.NewInvalidApproval("sticky token invalid: " + reason)
		}
		stickyClaims = claims
		pinnedModel = claims.ModelID
	}

	// ── embedding bias (off hot path; non-fatal on failure) ─────
	var canonical *embeddings.Selection
	canonicalHash := ""
	if e.cfg.EmbeddingsEnabled && e.Embeddings != nil {
		summary := summaryOf(req)
		canonical = e.Embeddings.Select(ctx, summary)
		if canonical != nil {
			canonicalHash = canonical.Hash()
		}
	}

	overlayRef := resolveOverlayRef(alias.PolicyAlias, polSnap.Doc, req)

	// ── cache lookup ─────────────────────────────────────────────
	key := deriveCacheKey(req, polSnap.Doc.Revision, catSnap.Revision, overlayRef, promptTokens, outputTokens, canonicalHash, pinnedModel)
	entry, cacheStatus := e.Cache.Lookup(key, start, polSnap.Doc.Revision, catSnap.Revision)
	if cacheStatus == models.CacheHit && pinnedModel == "" {
		plan := entry.Plan
		meta := e.metaFromPlan(plan, cacheStatus, start, req)
		meta.Why = entry.RouteReason
		e.maybeRefreshSticky(&plan, &meta, stickyClaims, polSnap.Doc.Revision, polSnap.Doc.Defaults.Stickiness.WindowMs, start)
		e.Stats.RecordRequest(cacheStatus)
		e.Stats.RecordModel(plan.Upstream.ModelID)
		return &plan, &meta, nil
	}
	// A stale entry is recomputed below and tagged stale; anything else is a miss.
	if cacheStatus != models.CacheStale {
		cacheStatus = models.CacheMiss
	}

	// ── candidate filter ─────────────────────────────────────────
	candidates, rejection := e.filterCandidates(alias.PolicyAlias, catSnap, req, promptTokens, outputTokens)
	if pinnedModel != "" {
		if !containsID(candidates, pinnedModel) {
			stickyDropReason = "policy_lock"
			pinnedModel = ""
		}
	}
	if len(candidates) == 0 {
		e.Stats.RecordError(string(rejection.code))
		return nil, nil, rejection.err
	}

	// ── score ──────────────────────────────────────────────────
	scored := e.scoreCandidates(candidates, alias, polSnap.Doc, req, promptTokens, outputTokens, canonical)
	orderByScoreThenPin(scored, pinnedModel)

	primary := scored[0]
	fallbacks := buildFallbacks(scored, req)

	why := determineEscalation(polSnap, req, promptTokens, outputTokens, stickyDropReason, canonical, primary.entry.ID)

	overlayEntry, overlaySnapshot, overlayErr := e.resolveOverlay(overlayRef, polSnap.Doc.Defaults.MaxOverlayBytes)
	if overlayErr != nil {
		return nil, nil, overlayErr
	}

	contentUsed := determineContentUsed(req)

	freezeKey := deriveFreezeKey(req, polSnap.Doc.Revision, overlaySnapshot)
	ttlMs := polSnap.Doc.Defaults.TTLMs
	if ttlMs == 0 {
		ttlMs = e.cfg.DefaultCacheTTLMs
	}
	staleMs := e.cfg.DefaultCacheStaleMs
	validUntil := start.Add(time.Duration(ttlMs) * time.Millisecond)

	routeID := uuid.NewString()
	plan := e.assemblePlan(routeID, primary, fallbacks, polSnap.Doc, alias, overlayEntry, contentUsed, req, canonical, freezeKey, ttlMs, validUntil, catSnap.Revision, why)

	// ── sticky issue ─────────────────────────────────────────────
	e.issueSticky(&plan, polSnap.Doc, routeID, req.Alias, primary.entry.ID, polSnap.Doc.Revision, start, validUntil)

	e.Cache.Insert(key, &cache.Entry{
		Plan:        plan,
		InsertedAt:  start,
		TTLMs:       ttlMs,
		StaleMs:     staleMs,
		ValidUntil:  validUntil,
		FreezeKey:   freezeKey,
		PolicyRev:   polSnap.Doc.Revision,
		CatalogRev:  catSnap.Revision,
		RouteReason: why,
	})

	meta := e.metaFromPlan(plan, cacheStatus, start, req)
	meta.Why = why
	if canonical != nil {
		meta.CanonicalModel = canonical.ModelID
		meta.CanonicalIDs = canonical.CanonicalIDs
		meta.CanonicalScore = canonical.Score
	}

	e.Stats.RecordRequest(cacheStatus)
	e.Stats.RecordModel(plan.Upstream.ModelID)

	return &plan, &meta, nil
}

func (e *Engine) validate(req models.RouteRequest, sourceIdentity string) error {
	if req.SchemaVersion != "" && req.SchemaVersion != models.SchemaVersion {
		return apperr.NewUnsupportedSchema(req.SchemaVersion)
	}
	if req.RequestID == "" {
		return apperr.NewInvalidRequest("request_id is required")
	}
	if req.Alias == "" {
		return apperr.NewInvalidRequest("alias is required")
	}
	if e.Limiter != nil && !e.Limiter.Allow(sourceIdentity) {
		return apperr.NewInvalidRequest("rate limit exceeded for source")
	}
	return nil
}

func estimateTokens(req models.RouteRequest, defaults models.PolicyDefaults) (prompt, output int64) {
	if req.Estimates != nil {
		prompt = req.Estimates.PromptTokens
		output = req.Estimates.MaxOutputTokens
	}
	if output == 0 {
		output = defaults.MaxOutputTokens
	}
	return prompt, output
}

func summaryOf(req models.RouteRequest) string {
	conv := ""
	if req.Conversation != nil {
		conv = req.Conversation.Summary
	}
	canon, ov := "", ""
	if req.Overrides != nil {
		canon = req.Overrides.CanonicalSum
		ov = req.Overrides.Summary
	}
	return embeddings.ExtractSummary(conv, canon, ov)
}

func resolveOverlayRef(alias models.PolicyAlias, doc models.PolicyDocument, req models.RouteRequest) string {
	if doc.OverlayMap != nil {
		if id, ok := doc.OverlayMap[req.Alias]; ok && id != "" {
			return id
		}
		if req.Org != nil && req.Org.Role != "" {
			if id, ok := doc.OverlayMap[req.Org.Role]; ok && id != "" {
				return id
			}
		}
	}
	return alias.OverlayID
}

func (e *Engine) resolveOverlay(ref string, maxBytes int64) (*overlay.Entry, *overlay.Entry, error) {
	if ref == "" {
		return nil, nil, nil
	}
	entry, ok := e.Overlays.Lookup(ref)
	if !ok {
		return nil, nil, apperr.NewInvalidRequest("overlay not found: " + ref)
	}
	if maxBytes > 0 && entry.SizeBytes > maxBytes {
		return nil, nil, apperr.NewPolicyDeny(fmt.Sprintf("overlay %q exceeds max_overlay_bytes", ref))
	}
	return &entry, &entry, nil
}

func determineContentUsed(req models.RouteRequest) models.ContentLevel {
	level := req.PrivacyMode.AsContentLevel()
	if req.ContentAttestation != nil && req.ContentAttestation.Included != "" {
		level = models.MinContentLevel(level, req.ContentAttestation.Included)
	}
	return level
}

func deriveFreezeKey(req models.RouteRequest, policyRev string, overlayEntry *overlay.Entry) string {
	if req.Overrides != nil && req.Overrides.FreezeKey != "" {
		return req.Overrides.FreezeKey
	}
	fp := ""
	if overlayEntry != nil {
		fp = overlayEntry.Fingerprint
	}
	h := sha256.Sum256([]byte(policyRev + ":" + fp))
	return "frz_" + hex.EncodeToString(h[:])[:16]
}

func deriveCacheKey(req models.RouteRequest, policyRev, catalogRev, overlayRef string, prompt, output int64, canonicalHash, pinnedModel string) cache.Key {
	region := ""
	if req.GeoCtx != nil {
		region = req.GeoCtx.Region
	}
	boost := req.Overrides != nil && req.Overrides.TeacherBoost
	freeze := ""
	if req.Overrides != nil {
		freeze = req.Overrides.FreezeKey
	}
	return cache.Derive(cache.KeyInputs{
		Alias:           req.Alias,
		PolicyRevision:  policyRev,
		CatalogRevision: catalogRev,
		Api:             string(req.Api),
		PrivacyMode:     string(req.PrivacyMode),
		OverlayIDOrFP:   overlayRef,
		Caps:            req.Caps,
		RegionBucket:    region,
		PromptBucket:    cache.BucketTokens(prompt),
		OutputBucket:    cache.BucketTokens(output),
		TeacherBoost:    boost,
		CanonicalHash:   canonicalHash,
		FreezeKey:       freeze,
		PinnedModel:     pinnedModel,
	})
}

func containsID(cands []*models.CatalogEntry, id string) bool {
	for _, c := range cands {
		if c.ID == id {
			return true
		}
	}
	return false
}

type rejection struct {
	code apperr.Code
	err  error
}

func (e *Engine) filterCandidates(alias models.PolicyAlias, catSnap *catalog.Snapshot, req models.RouteRequest, prompt, output int64) ([]*models.CatalogEntry, rejection) {
	requiredCaps := mergeCaps(alias.RequireCaps, req.Caps)
	region := ""
	if req.GeoCtx != nil {
		region = req.GeoCtx.Region
	}

	var out []*models.CatalogEntry
	var byBudgetOnly, byHealthOnly, byOther int

	for _, id := range alias.Candidates {
		entry, ok := catSnap.Lookup(id)
		if !ok {
			byOther++
			continue
		}

		if !hasCaps(entry.Capabilities, requiredCaps) {
			byOther++
			continue
		}
		if region != "" && !regionAllowed(alias.AllowedRegions, entry.Regions, region) {
			byOther++
			continue
		}
		if entry.Capabilities.ContextWindow < prompt+output {
			byOther++
			continue
		}
		if entry.Status == models.StatusDisabled {
			byHealthOnly++
			continue
		}

		if req.Budget != nil && req.Budget.AmountMicro > 0 {
			cost := estimateCostMicro(*entry, prompt, output)
			if cost > req.Budget.AmountMicro {
				byBudgetOnly++
				continue
			}
		}

		out = append(out, entry)
	}

	if len(out) > 0 {
		return out, rejection{}
	}

	switch {
	case byBudgetOnly > 0:
		return nil, rejection{code: apperr.BudgetExceeded, err: apperr.NewBudgetExceeded()}
	case byHealthOnly > 0:
		return nil, rejection{code: apperr.UpstreamUnavailable, err: apperr.NewUpstreamUnavailable()}
	default:
		return nil, rejection{code: apperr.PolicyDeny, err: apperr.NewPolicyDeny("no candidate satisfies required capabilities/region/context for this alias")}
	}
}

func mergeCaps(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, c := range append(append([]string{}, a...), b...) {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func hasCaps(caps models.CapabilitySet, required []string) bool {
	for _, c := range required {
		switch c {
		case "tools":
			if !caps.SupportsTools {
				return false
			}
		case "json":
			if !caps.SupportsJSON {
				return false
			}
		case "prompt_cache":
			if !caps.SupportsPromptCache {
				return false
			}
		default:
			if !containsStr(caps.Modalities, c) {
				return false
			}
		}
	}
	return true
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func regionAllowed(aliasAllowed, modelRegions []string, requested string) bool {
	if len(aliasAllowed) > 0 && !containsStr(aliasAllowed, requested) {
		return false
	}
	if len(modelRegions) == 0 {
		return true
	}
	if containsStr(modelRegions, "global") {
		return true
	}
	return containsStr(modelRegions, requested)
}

func estimateCostMicro(entry models.CatalogEntry, prompt, output int64) int64 {
	return entry.Cost.InputMicro*prompt + entry.Cost.OutputMicro*output
}

type scoredCandidate struct {
	entry        *models.CatalogEntry
	score        float64
	snapshot     health.Snapshot
}

func (e *Engine) scoreCandidates(candidates []*models.CatalogEntry, alias policy.CompiledAlias, doc models.PolicyDocument, req models.RouteRequest, prompt, output int64, canonical *embeddings.Selection) []scoredCandidate {
	weights := doc.Weights
	defaults := doc.Defaults

	canonicalBonusWeight := defaults.CanonicalBonus
	if canonicalBonusWeight == 0 {
		canonicalBonusWeight = 0.15
	}
	teacherBonusWeight := defaults.TeacherBonus
	if teacherBonusWeight == 0 {
		teacherBonusWeight = 0.10
	}

	out := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		snap := e.Health.Snapshot(c.ID)
		latency := snap.EWMALatencyMs
		errRate := snap.EWMAErrorRate
		if snap.Requests == 0 {
			latency = c.SLOs.RecentLatencyMs
			if latency == 0 {
				latency = float64(c.SLOs.TargetLatencyMs)
			}
			errRate = c.SLOs.RecentErrorRate
		}

		costNorm := defaults.CostNormMicro
		if costNorm == 0 {
			costNorm = 1
		}
		latencyNorm := defaults.LatencyMs
		if latencyNorm == 0 {
			latencyNorm = 1
		}

		costTerm := weights.Cost * clampMin0(1-float64(estimateCostMicro(*c, prompt, output))/float64(costNorm))
		latencyTerm := weights.Latency * clampMin0(1-latency/float64(latencyNorm))
		healthTerm := weights.Health * (1 - errRate)
		ctxTerm := 0.0
		if prompt+output > 0 {
			ctxTerm = weights.Context * minF(1, float64(c.Capabilities.ContextWindow)/float64(prompt+output))
		}

		tierBonus := 0.0
		if weights.TierBonus != 0 {
			if tier, ok := alias.TierByModel[c.ID]; ok && tier != "" {
				tierBonus = weights.TierBonus
			}
		}

		canonicalBonus := 0.0
		if canonical != nil && canonical.ModelID == c.ID {
			canonicalBonus = canonicalBonusWeight * canonical.Score
		}

		teacherBonus := 0.0
		if req.Overrides != nil && req.Overrides.TeacherBoost {
			teacherBonus = teacherBonusWeight
		}

		degradedPenalty := 0.0
		if c.Status == models.StatusDegraded {
			degradedPenalty = 0.05
		}

		score := costTerm + latencyTerm + healthTerm + ctxTerm + tierBonus + canonicalBonus + teacherBonus - degradedPenalty

		out = append(out, scoredCandidate{entry: c, score: score, snapshot: health.Snapshot{EWMALatencyMs: latency, EWMAErrorRate: errRate}})
	}
	return out
}

func clampMin0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func orderByScoreThenPin(scored []scoredCandidate, pinned string) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.snapshot.EWMALatencyMs != b.snapshot.EWMALatencyMs {
			return a.snapshot.EWMALatencyMs < b.snapshot.EWMALatencyMs
		}
		if a.snapshot.EWMAErrorRate != b.snapshot.EWMAErrorRate {
			return a.snapshot.EWMAErrorRate < b.snapshot.EWMAErrorRate
		}
		return a.entry.ID < b.entry.ID
	})

	if pinned == "" {
		return
	}
	for i, c := range scored {
		if c.entry.ID == pinned {
			if i != 0 {
				copy(scored[1:i+1], scored[0:i])
				scored[0] = c
			}
			return
		}
	}
}

func buildFallbacks(scored []scoredCandidate, req models.RouteRequest) []models.Fallback {
	region := ""
	if req.GeoCtx != nil {
		region = req.GeoCtx.Region
	}
	var out []models.Fallback
	for i := 1; i < len(scored) && len(out) < 3; i++ {
		c := scored[i].entry
		reason := "alternate"
		switch {
		case c.Status == models.StatusDegraded:
			reason = "health_backoff"
		case region != "" && len(c.Regions) > 0 && !containsStr(c.Regions, region) && !containsStr(c.Regions, "global"):
			reason = "region_alternate"
		}
		out = append(out, models.Fallback{
			BaseURL: c.Metadata.BaseURL,
			Mode:    c.Metadata.Mode,
			ModelID: c.ID,
			Reason:  reason,
			Penalty: scored[0].score - scored[i].score,
		})
	}
	return out
}

func determineEscalation(polSnap *policy.Snapshot, req models.RouteRequest, prompt, output int64, stickyDropReason string, canonical *embeddings.Selection, primaryID string) string {
	if stickyDropReason != "" {
		return stickyDropReason
	}
	if canonical != nil && canonical.ModelID == primaryID {
		return "canonical:" + primaryID
	}
	if req.Overrides != nil && req.Overrides.TeacherBoost {
		return "teacher_boost"
	}
	esc := polSnap.Doc.Escalations
	if esc.TokenLenOver > 0 && prompt+output > esc.TokenLenOver {
		return "complexity"
	}
	summary := summaryOf(req)
	if polSnap.UncertaintyRegex != nil && polSnap.UncertaintyRegex.MatchString(summary) {
		return "uncertainty"
	}
	params := map[string]any{}
	if req.Params != nil {
		params = req.Params
	}
	if esc.ScpiErrorPresent && truthy(params["scpi_error"]) {
		return "policy_lock"
	}
	if polSnap.EvalExpr(prompt, output, summary, params) {
		return "expr_match"
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case nil:
		return false
	default:
		return true
	}
}

func (e *Engine) assemblePlan(routeID string, primary scoredCandidate, fallbacks []models.Fallback, doc models.PolicyDocument, alias policy.CompiledAlias, overlayEntry *overlay.Entry, contentUsed models.ContentLevel, req models.RouteRequest, canonical *embeddings.Selection, freezeKey string, ttlMs int64, validUntil time.Time, catalogRev string, why string) models.RoutePlan {
	c := primary.entry

	var maxInput, maxOutput, timeout *int64
	if c.Capabilities.ContextWindow > 0 {
		v := c.Capabilities.ContextWindow
		maxInput = &v
	}
	if doc.Defaults.MaxOutputTokens > 0 {
		v := doc.Defaults.MaxOutputTokens
		maxOutput = &v
	}
	if doc.Defaults.TimeoutMs > 0 {
		v := doc.Defaults.TimeoutMs
		timeout = &v
	}

	var overlayRef models.PromptOverlays
	overlayRef.MaxOverlayBytes = doc.Defaults.MaxOverlayBytes
	if overlayEntry != nil {
		sysOverlay := overlayEntry.Text
		fp := overlayEntry.Fingerprint
		sz := overlayEntry.SizeBytes
		overlayRef.SystemOverlay = &sysOverlay
		overlayRef.OverlayFingerprint = &fp
		overlayRef.OverlaySizeBytes = &sz
	}

	estCost := estimateCostMicro(*c, 0, 0)
	if req.Estimates != nil {
		estCost = estimateCostMicro(*c, req.Estimates.PromptTokens, req.Estimates.MaxOutputTokens)
	}
	estLatency := int64(primary.snapshot.EWMALatencyMs)

	tier := ""
	if t, ok := alias.TierByModel[c.ID]; ok {
		tier = t
	}

	explain := fmt.Sprintf("score=%.3f cost=%dµ latency=%dms", primary.score, estCost, estLatency)
	if why != "" {
		explain += " why=" + why
	}

	budgets := models.GovernanceBudgets{}
	if req.Budget != nil {
		budgets = models.GovernanceBudgets{AmountMicro: req.Budget.AmountMicro, Currency: req.Budget.Currency}
	}
	historyFP := ""
	if req.Conversation != nil {
		historyFP = req.Conversation.HistoryFingerprint
	}

	var canonInfo *models.CanonicalInfo
	if canonical != nil {
		canonInfo = &models.CanonicalInfo{IDs: canonical.CanonicalIDs, Model: canonical.ModelID, Score: canonical.Score}
	}

	return models.RoutePlan{
		SchemaVersion: models.SchemaVersion,
		RouteID:       routeID,
		Upstream: models.ModelMetadataID{
			BaseURL: c.Metadata.BaseURL,
			Mode:    c.Metadata.Mode,
			ModelID: c.ID,
			AuthEnv: c.Metadata.AuthEnv,
			Headers: c.Metadata.Headers,
		},
		Limits:         models.Limits{MaxInputTokens: maxInput, MaxOutputTokens: maxOutput, TimeoutMs: timeout},
		PromptOverlays: overlayRef,
		Hints: models.Hints{
			Tier:         tier,
			EstCostMicro: &estCost,
			Currency:     c.Cost.Currency,
			EstLatencyMs: &estLatency,
			Provider:     c.Provider,
		},
		Fallbacks: fallbacks,
		Cache: models.CacheHints{
			TTLMs:      ttlMs,
			ETag:       fmt.Sprintf("W/%q", catalogRev+"@"+doc.Revision),
			ValidUntil: &validUntil,
			FreezeKey:  freezeKey,
		},
		Policy: models.PolicyInfo{
			Revision: doc.Revision,
			ID:       req.Alias,
			Explain:  explain,
		},
		PolicyRev:   doc.Revision,
		ContentUsed: contentUsed,
		GovernanceEcho: models.GovernanceEcho{
			Budgets:            budgets,
			Approvals:          models.GovernanceApprovals{},
			HistoryFingerprint: historyFP,
		},
		Canonical: canonInfo,
	}
}

func (e *Engine) issueSticky(plan *models.RoutePlan, doc models.PolicyDocument, routeID, alias, modelID, policyRev string, now time.Time, cacheValidUntil time.Time) {
	maxTurns := doc.Defaults.Stickiness.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 3
	}
	windowMs := doc.Defaults.Stickiness.WindowMs
	if windowMs <= 0 {
		windowMs = 900000
	}

	turnsRemaining := maxTurns - 1
	if turnsRemaining < 0 {
		turnsRemaining = 0
	}
	expiresAt := now.Add(time.Duration(windowMs) * time.Millisecond)
	if expiresAt.After(cacheValidUntil) {
		expiresAt = cacheValidUntil
	}

	token, err := e.Sticky.Issue(stickiness.Claims{
		RouteID:        routeID,
		Alias:          alias,
		ModelID:        modelID,
		TurnsRemaining: turnsRemaining,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
		PolicyRev:      policyRev,
	})
	if err != nil {
		return
	}

	plan.Stickiness = models.Stickiness{PlanToken: token, MaxTurns: &maxTurns, ExpiresAt: &expiresAt}
}

// maybeRefreshSticky mints a fresh sticky token on a cache hit when the
// cached one would expire within window_ms/4, per SPEC_FULL.md §4.H step 5.
// windowMs is the policy's configured stickiness window, not derived from
// the token's own remaining lifetime — otherwise the near-expiry check
// degenerates into a tautology that always refreshes.
func (e *Engine) maybeRefreshSticky(plan *models.RoutePlan, meta *ResponseMeta, claims *stickiness.Claims, policyRev string, windowMs int64, now time.Time) {
	if plan.Stickiness.ExpiresAt == nil {
		return
	}
	if windowMs <= 0 {
		windowMs = 900000
	}
	remaining := plan.Stickiness.ExpiresAt.Sub(now)
	if remaining > time.Duration(windowMs/4)*time.Millisecond {
		return
	}
	if claims == nil {
		// Requests carrying a sticky token bypass the cache, so a hit has no
		// verified claims: rebuild them from the cached plan. ProgressTurn
		// then leaves MaxTurns-1 turns on the new token, as issueSticky does.
		turns := int64(3)
		if plan.Stickiness.MaxTurns != nil {
			turns = *plan.Stickiness.MaxTurns
		}
		claims = &stickiness.Claims{
			RouteID: plan.RouteID, Alias: plan.Policy.ID, ModelID: plan.Upstream.ModelID,
			TurnsRemaining: turns, IssuedAt: now, PolicyRev: policyRev,
		}
	}

	cap := *plan.Stickiness.ExpiresAt
	if plan.Cache.ValidUntil != nil {
		cap = *plan.Cache.ValidUntil
	}
	refreshed, err := e.Sticky.ProgressTurn(*claims, now, windowMs, cap)
	if err != nil {
		return
	}
	plan.Stickiness.PlanToken = refreshed

	expiresAt := now.Add(time.Duration(windowMs) * time.Millisecond)
	if expiresAt.After(cap) {
		expiresAt = cap
	}
	plan.Stickiness.ExpiresAt = &expiresAt
}

func (e *Engine) metaFromPlan(plan models.RoutePlan, status models.CacheStatus, start time.Time, req models.RouteRequest) ResponseMeta {
	meta := ResponseMeta{
		CacheStatus:     status,
		LatencyMs:       time.Since(start).Milliseconds(),
		ConfigRevision:  plan.PolicyRev,
		CatalogRevision: extractCatalogRevFromETag(plan.Cache.ETag),
		ResolvedModel:   plan.Upstream.ModelID,
		RouteID:         plan.RouteID,
		PolicyRev:       plan.PolicyRev,
		ContentUsed:     plan.ContentUsed,
		Tier:            plan.Hints.Tier,
		Provider:        plan.Hints.Provider,
	}
	if plan.Canonical != nil {
		meta.CanonicalModel = plan.Canonical.Model
		meta.CanonicalIDs = plan.Canonical.IDs
		meta.CanonicalScore = plan.Canonical.Score
	}
	if req.Trace != nil {
		meta.Traceparent = req.Trace.Traceparent
		meta.Tracestate = req.Trace.Tracestate
	}
	return meta
}

func extractCatalogRevFromETag(etag string) string {
	// etag is of the form W/"<catalog_rev>@<policy_rev>"
	start := -1
	for i, c := range etag {
		if c == '"' {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}
	rest := etag[start:]
	for i, c := range rest {
		if c == '@' {
			return rest[:i]
		}
	}
	return ""
}

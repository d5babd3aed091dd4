package models

import "time"

// SchemaVersion is the only RouteRequest/RoutePlan schema version this
// control plane accepts or emits. Requests naming any other version are
// rejected with UNSUPPORTED_SCHEMA.
const SchemaVersion = "1.1"

// ContentLevel orders how much of a conversation a plan is allowed to
// have considered, from least to most revealing.
type ContentLevel string

const (
	ContentNone    ContentLevel = "none"
	ContentSummary ContentLevel = "summary"
	ContentFull    ContentLevel = "full"
)

var contentRank = map[ContentLevel]int{
	ContentNone:    0,
	ContentSummary: 1,
	ContentFull:    2,
}

// Rank returns the ContentLevel's position in the none < summary < full
// order, used to compute content_used as a minimum.
func (c ContentLevel) Rank() int { return contentRank[c] }

// MinContentLevel returns the lesser of two content levels under the
// none < summary < full order. An empty b is treated as "no constraint"
// and a is returned unchanged.
func MinContentLevel(a ContentLevel, b ContentLevel) ContentLevel {
	if b == "" {
		return a
	}
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

// PrivacyMode controls how much conversational content a caller permits
// the planner to consider.
type PrivacyMode string

const (
	PrivacyFeaturesOnly PrivacyMode = "features_only"
	PrivacySummary      PrivacyMode = "summary"
	PrivacyFull         PrivacyMode = "full"
)

// AsContentLevel maps a PrivacyMode onto the ContentLevel ordering so it
// can be combined with ContentAttestation.Included via MinContentLevel.
func (p PrivacyMode) AsContentLevel() ContentLevel {
	switch p {
	case PrivacyFull:
		return ContentFull
	case PrivacySummary:
		return ContentSummary
	default:
		return ContentNone
	}
}

// ApiKind selects the upstream wire shape a plan targets.
type ApiKind string

const (
	ApiResponses ApiKind = "responses"
	ApiChat      ApiKind = "chat"
)

// TraceContext carries W3C trace propagation fields the caller supplied;
// they are echoed back on the response when present.
type TraceContext struct {
	Traceparent string `json:"traceparent,omitempty"`
	Tracestate  string `json:"tracestate,omitempty"`
}

// ContentAttestation bounds how much of the conversation the caller
// attests it actually sent, independent of PrivacyMode.
type ContentAttestation struct {
	Included ContentLevel `json:"included,omitempty"`
}

// Targets carries soft performance/reliability preferences for a request.
type Targets struct {
	P95LatencyMs int64 `json:"p95_latency_ms,omitempty"`
	// MinTokensPerSec and ReliabilityTier are not in the distilled spec's
	// prose but are present in the original implementation's Targets type;
	// like P95LatencyMs, both are accepted on the wire but not read by
	// candidate filtering or scoring.
	MinTokensPerSec float64 `json:"min_tokens_per_sec,omitempty"`
	ReliabilityTier string  `json:"reliability_tier,omitempty"`
}

// Budget caps the micro-currency cost a plan's primary candidate may
// project to cost.
type Budget struct {
	AmountMicro int64  `json:"amount_micro"`
	Currency    string `json:"currency,omitempty"`
}

// Estimates gives the planner the token counts it needs to project cost,
// latency, and context-window fit.
type Estimates struct {
	PromptTokens    int64  `json:"prompt_tokens,omitempty"`
	MaxOutputTokens int64  `json:"max_output_tokens,omitempty"`
	TokenizerID     string `json:"tokenizer_id,omitempty"`
}

// Conversation carries multi-turn context a request may reference.
type Conversation struct {
	Turns             int64  `json:"turns,omitempty"`
	SystemFingerprint string `json:"system_fingerprint,omitempty"`
	Summary           string `json:"summary,omitempty"`
	// HistoryFingerprint is opaque client bookkeeping reintroduced from the
	// original implementation; the planner never inspects it beyond
	// echoing it back in governance_echo.
	HistoryFingerprint string `json:"history_fingerprint,omitempty"`
}

// OrgContext identifies the caller's tenant/project/role for policy and
// overlay resolution.
type OrgContext struct {
	Tenant  string `json:"tenant,omitempty"`
	Project string `json:"project,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Geo carries the caller's region hint for region-constrained routing.
type Geo struct {
	Region string `json:"region,omitempty"`
}

// ToolHint describes a tool the caller intends to invoke, used only for
// capability-requirement inference.
type ToolHint struct {
	Name           string `json:"name"`
	JSONSchemaHash string `json:"json_schema_hash,omitempty"`
}

// Overrides lets a caller pin a previously issued sticky token, request
// the teacher-boost escalation, or supply a summary for canonical bias
// when conversation.summary is absent.
type Overrides struct {
	PlanToken    string         `json:"plan_token,omitempty"`
	TeacherBoost bool           `json:"teacher_boost,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	FreezeKey    string         `json:"freeze_key,omitempty"`
	CanonicalSum string         `json:"canonical_summary,omitempty"`
	Params       map[string]any `json:"-"`
}

// RouteRequest is the POST /route/plan request body.
type RouteRequest struct {
	RequestID          string              `json:"request_id"`
	SchemaVersion       string              `json:"schema_version,omitempty"`
	Alias               string              `json:"alias"`
	Api                 ApiKind             `json:"api"`
	PrivacyMode          PrivacyMode         `json:"privacy_mode"`
	Stream               bool                `json:"stream"`
	Trace                *TraceContext       `json:"trace,omitempty"`
	ContentAttestation   *ContentAttestation `json:"content_attestation,omitempty"`
	Caps                 []string            `json:"caps,omitempty"`
	Params               map[string]any      `json:"params,omitempty"`
	Targets              *Targets            `json:"targets,omitempty"`
	Budget               *Budget             `json:"budget,omitempty"`
	Estimates            *Estimates          `json:"estimates,omitempty"`
	Conversation         *Conversation       `json:"conversation,omitempty"`
	Org                  *OrgContext         `json:"org,omitempty"`
	GeoCtx               *Geo                `json:"geo,omitempty"`
	Tools                []ToolHint          `json:"tools,omitempty"`
	Overrides            *Overrides          `json:"overrides,omitempty"`
}

// CapabilitySet models the modality/feature flags a candidate supports
// or a request requires.
type CapabilitySet struct {
	Modalities          []string `json:"modalities,omitempty"`
	ContextWindow       int64    `json:"context_window"`
	SupportsTools       bool     `json:"supports_tools"`
	SupportsJSON        bool     `json:"supports_json"`
	SupportsPromptCache bool     `json:"supports_prompt_cache"`
}

// ModelCost prices a candidate per-token in micro-currency.
type ModelCost struct {
	InputMicro  int64  `json:"input_micro"`
	OutputMicro int64  `json:"output_micro"`
	CachedMicro int64  `json:"cached_micro,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// ModelLimits caps a candidate's throughput.
type ModelLimits struct {
	TPS int64 `json:"tps,omitempty"`
	RPM int64 `json:"rpm,omitempty"`
}

// ModelSLOs records a candidate's target and recently observed service
// levels; recent_* fields seed the health tracker when no feedback has
// yet been recorded for the model.
type ModelSLOs struct {
	TargetLatencyMs   int64   `json:"target_latency_ms"`
	RecentLatencyMs   float64 `json:"recent_latency_ms,omitempty"`
	RecentErrorRate   float64 `json:"recent_error_rate,omitempty"`
}

// ModelMetadata carries the upstream dispatch details a downstream proxy
// needs to actually execute a plan.
type ModelMetadata struct {
	BaseURL string            `json:"base_url"`
	Mode    ApiKind           `json:"mode"`
	AuthEnv string            `json:"auth_env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CatalogStatus is a candidate's eligibility state.
type CatalogStatus string

const (
	StatusHealthy  CatalogStatus = "healthy"
	StatusDegraded CatalogStatus = "degraded"
	StatusDisabled CatalogStatus = "disabled"
)

// CatalogEntry is one routable model in the catalog.
type CatalogEntry struct {
	ID           string         `json:"id"`
	Provider     string         `json:"provider"`
	Regions      []string       `json:"regions,omitempty"`
	PolicyTags   []string       `json:"policy_tags,omitempty"`
	Capabilities CapabilitySet  `json:"capabilities"`
	Limits       ModelLimits    `json:"limits"`
	Cost         ModelCost      `json:"cost"`
	SLOs         ModelSLOs      `json:"slos"`
	Metadata     ModelMetadata  `json:"metadata"`
	Status       CatalogStatus  `json:"status"`
}

// CatalogDocument is the full catalog as served by GET /catalog/models and
// accepted by POST /admin/catalog.
type CatalogDocument struct {
	Revision string         `json:"revision"`
	Models   []CatalogEntry `json:"models"`
}

// TierCandidate pairs a candidate model id with an optional tier label
// consulted by tier_bonus scoring.
type TierCandidate struct {
	ModelID string `json:"model_id"`
	Tier    string `json:"tier,omitempty"`
}

// PolicyAlias resolves a logical alias to an ordered candidate list under
// capability/region/overlay constraints.
type PolicyAlias struct {
	Candidates     []string        `json:"candidates"`
	RequireCaps    []string        `json:"require_caps,omitempty"`
	AllowedRegions []string        `json:"allowed_regions,omitempty"`
	OverlayID      string          `json:"overlay_id,omitempty"`
	Tiers          []TierCandidate `json:"tiers,omitempty"`
}

// StickinessDefaults configures the default sticky-token window and
// max-turns for aliases that don't override them.
type StickinessDefaults struct {
	WindowMs int64 `json:"window_ms"`
	MaxTurns int64 `json:"max_turns"`
}

// PolicyDefaults carries the policy-wide numeric defaults the spec
// requires implementations to expose rather than hardcode.
type PolicyDefaults struct {
	CostNormMicro     int64              `json:"cost_norm_micro"`
	LatencyMs         int64              `json:"latency_ms"`
	TimeoutMs         int64              `json:"timeout_ms"`
	MaxOutputTokens   int64              `json:"max_output_tokens"`
	Stickiness        StickinessDefaults `json:"stickiness"`
	MaxOverlayBytes   int64              `json:"max_overlay_bytes"`
	TTLMs             int64              `json:"ttl_ms,omitempty"`
	CanonicalBonus    float64            `json:"canonical_bonus,omitempty"`
	CanonicalFloor    float64            `json:"canonical_floor,omitempty"`
	TeacherBonus      float64            `json:"teacher_bonus,omitempty"`
	HealthEWMAAlpha   float64            `json:"health_ewma_alpha,omitempty"`
	EmbeddingTimeoutMs int64             `json:"embedding_timeout_ms,omitempty"`
}

// PolicyWeights weights the terms of the scoring function.
type PolicyWeights struct {
	Cost      float64 `json:"cost"`
	Latency   float64 `json:"latency"`
	Health    float64 `json:"health"`
	Context   float64 `json:"context"`
	TierBonus float64 `json:"tier_bonus,omitempty"`
}

// PolicyEscalations names the predicates that surface an X-Route-Why
// escalation reason beyond the structural ones (policy_lock, canonical:*).
type PolicyEscalations struct {
	TokenLenOver     int64  `json:"token_len_over,omitempty"`
	UncertaintyRegex string `json:"uncertainty_regex,omitempty"`
	ScpiErrorPresent bool   `json:"scpi_error_present,omitempty"`
	TeacherBoostTier string `json:"teacher_boost_tier,omitempty"`
	DefaultTier      string `json:"default_tier,omitempty"`
	FallbackTier     string `json:"fallback_tier,omitempty"`
	// Expr is an optional boolean expression (github.com/expr-lang/expr
	// syntax) evaluated against {prompt_tokens, max_output_tokens, summary,
	// params}; true surfaces X-Route-Why: expr_match.
	Expr string `json:"expr,omitempty"`
}

// PolicyDocument is the full policy as served by GET /policy and accepted
// by POST /admin/policy.
type PolicyDocument struct {
	Revision    string                 `json:"revision"`
	Weights     PolicyWeights          `json:"weights"`
	Defaults    PolicyDefaults         `json:"defaults"`
	Aliases     map[string]PolicyAlias `json:"aliases"`
	OverlayMap  map[string]string      `json:"overlay_map,omitempty"`
	Escalations PolicyEscalations      `json:"escalation_predicates,omitempty"`
}

// Limits is the per-plan limits object; present with nullable values per
// the spec's I1 (plans are immutable once cached, object always present).
type Limits struct {
	MaxInputTokens  *int64 `json:"max_input_tokens"`
	MaxOutputTokens *int64 `json:"max_output_tokens"`
	TimeoutMs       *int64 `json:"timeout_ms"`
}

// PromptOverlays carries the resolved overlay metadata attached to a plan.
type PromptOverlays struct {
	SystemOverlay     *string `json:"system_overlay"`
	OverlayFingerprint *string `json:"overlay_fingerprint"`
	OverlaySizeBytes  *int64  `json:"overlay_size_bytes"`
	MaxOverlayBytes   int64   `json:"max_overlay_bytes"`
}

// Hints surfaces cost/latency/tier context a caller can use without
// re-deriving it.
type Hints struct {
	Tier         string  `json:"tier,omitempty"`
	EstCostMicro *int64  `json:"est_cost_micro,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	EstLatencyMs *int64  `json:"est_latency_ms,omitempty"`
	Provider     string  `json:"provider,omitempty"`
}

// Fallback is one ordered alternate in a plan's fallback list.
type Fallback struct {
	BaseURL string  `json:"base_url"`
	Mode    ApiKind `json:"mode"`
	ModelID string  `json:"model_id"`
	Reason  string  `json:"reason"`
	Penalty float64 `json:"penalty"`
}

// CacheHints describes the plan's cache-control metadata.
type CacheHints struct {
	TTLMs      int64      `json:"ttl_ms"`
	ETag       string     `json:"etag"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	FreezeKey  string     `json:"freeze_key"`
}

// Stickiness is the plan's sticky-token metadata.
type Stickiness struct {
	PlanToken string     `json:"plan_token,omitempty"`
	MaxTurns  *int64     `json:"max_turns,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PolicyInfo names the policy revision/alias-id and a human-readable
// explanation of why the primary candidate won.
type PolicyInfo struct {
	Revision string `json:"revision"`
	ID       string `json:"id"`
	Explain  string `json:"explain"`
}

// GovernanceBudgets echoes the budget the request carried, if any.
type GovernanceBudgets struct {
	AmountMicro int64  `json:"amount_micro,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// GovernanceApprovals echoes approval-adjacent state; empty unless an
// approval gate is in play (none in this core implementation).
type GovernanceApprovals struct {
	Required bool `json:"required"`
}

// GovernanceEcho bundles governance bookkeeping echoed back unchanged.
type GovernanceEcho struct {
	Budgets            GovernanceBudgets   `json:"budgets"`
	Approvals          GovernanceApprovals `json:"approvals"`
	HistoryFingerprint string              `json:"history_fingerprint,omitempty"`
}

// CanonicalInfo is attached to a plan when embedding bias selected it.
type CanonicalInfo struct {
	IDs   []string `json:"ids"`
	Model string   `json:"model"`
	Score float64  `json:"score"`
}

// RoutePlan is the POST /route/plan response body.
type RoutePlan struct {
	SchemaVersion  string          `json:"schema_version"`
	RouteID        string          `json:"route_id"`
	Upstream       ModelMetadataID `json:"upstream"`
	Limits         Limits          `json:"limits"`
	PromptOverlays PromptOverlays  `json:"prompt_overlays"`
	Hints          Hints           `json:"hints"`
	Fallbacks      []Fallback      `json:"fallbacks"`
	Cache          CacheHints      `json:"cache"`
	Stickiness     Stickiness      `json:"stickiness"`
	Policy         PolicyInfo      `json:"policy"`
	PolicyRev      string          `json:"policy_rev"`
	ContentUsed    ContentLevel    `json:"content_used"`
	GovernanceEcho GovernanceEcho  `json:"governance_echo"`
	Canonical      *CanonicalInfo  `json:"canonical,omitempty"`
}

// ModelMetadataID is ModelMetadata plus the resolved model id, used on
// RoutePlan.Upstream where the plan must name its chosen model.
type ModelMetadataID struct {
	BaseURL string            `json:"base_url"`
	Mode    ApiKind           `json:"mode"`
	ModelID string            `json:"model_id"`
	AuthEnv string            `json:"auth_env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// FeedbackUsage records realized token usage for a completed request.
type FeedbackUsage struct {
	PromptTokens     int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens int64 `json:"completion_tokens,omitempty"`
}

// RouteFeedback is the POST /route/feedback request body.
type RouteFeedback struct {
	RouteID    string         `json:"route_id"`
	ModelID    string         `json:"model_id"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"duration_ms"`
	Usage      *FeedbackUsage `json:"usage,omitempty"`
}

// CacheStatus is the cache-state tag surfaced on X-Route-Cache.
type CacheStatus string

const (
	CacheHit   CacheStatus = "hit"
	CacheMiss  CacheStatus = "miss"
	CacheStale CacheStatus = "stale"
)

// RouterStats is the GET /stats response body.
type RouterStats struct {
	TotalRequests     int64            `json:"total_requests"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	CacheStale        int64            `json:"cache_stale"`
	CacheHitRatio     float64          `json:"cache_hit_ratio"`
	ModelShare        map[string]int64 `json:"model_share"`
	ErrorCountByCode  map[string]int64 `json:"error_count_by_code"`
	ErrorRate         float64          `json:"error_rate"`
}

// CapabilitiesResponse is the GET /capabilities response body.
type CapabilitiesResponse struct {
	SchemaVersion string                   `json:"schema_version"`
	PrivacyModes  []string                 `json:"privacy_modes"`
	Stickiness    CapabilitiesStickiness   `json:"stickiness"`
	Batch         CapabilitiesFlag         `json:"batch"`
	Prefetch      CapabilitiesFlag         `json:"prefetch"`
	ProviderHeaders bool                   `json:"provider_headers"`
}

type CapabilitiesStickiness struct {
	Supported bool  `json:"supported"`
	MaxTurns  int64 `json:"max_turns"`
	WindowMs  int64 `json:"window_ms"`
}

type CapabilitiesFlag struct {
	Supported bool `json:"supported"`
}

// HealthzResponse is the GET /healthz response body.
type HealthzResponse struct {
	Status          string    `json:"status"`
	PolicyRevision  string    `json:"policy_revision"`
	CatalogRevision string    `json:"catalog_revision"`
	Timestamp       time.Time `json:"timestamp"`
}

// ErrorEnvelope is the normative typed error body for every non-2xx
// response from the planner (see SPEC_FULL.md §7 — the legacy
// {error, message} shape is not implemented).
type ErrorEnvelope struct {
	SchemaVersion string `json:"schema_version"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	RequestID     string `json:"request_id,omitempty"`
	PolicyRev     string `json:"policy_rev,omitempty"`
	RetryHintMs   *int64 `json:"retry_hint_ms,omitempty"`
	Supported     []string `json:"supported,omitempty"`
}

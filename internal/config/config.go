// Package config reads the control plane's environment configuration:
// bind address, policy/catalog/overlay sources, cache sizing, stickiness
// secret, embeddings backend selection, rate limiting, telemetry, and the
// optional reload journal DSN.
package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the router control plane.
type Config struct {
	Bind      string
	Version   string
	Policy    PolicySourceConfig
	Catalog   CatalogSourceConfig
	Overlay   OverlaySourceConfig
	Cache     CacheConfig
	Sticky    StickyConfig
	Embed     EmbeddingsConfig
	RateLimit RateLimitConfig
	Journal   JournalConfig
	Telemetry TelemetryConfig
}

// PolicySourceConfig names where the policy document is loaded from. Path
// may point to a JSON or YAML file; the loader picks the decoder from the
// extension (see internal bootstrap loader).
type PolicySourceConfig struct {
	Path string
}

// CatalogSourceConfig names where the catalog document is loaded from.
type CatalogSourceConfig struct {
	Path string
}

// OverlaySourceConfig names the directory of prompt overlay files.
type OverlaySourceConfig struct {
	Dir string
}

// CacheConfig sizes and times the plan cache.
type CacheConfig struct {
	Capacity int
	TTLMs    int64
	StaleMs  int64
}

// StickyConfig carries the stickiness token HMAC secret.
type StickyConfig struct {
	Secret string
}

// EmbeddingsConfig selects and bounds the embedding bias runtime.
type EmbeddingsConfig struct {
	Enabled       bool
	Backend       string // "ollama", "openai", "hashed"
	OllamaURL     string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	TaskBankPath  string
	TopK          int
	TimeoutMs     int64
	CacheTTLMs    int64
	AllowHashed   bool
}

// RateLimitConfig bounds POST /route/plan throughput per source identity.
type RateLimitConfig struct {
	Burst        int
	RefillPerSec float64
}

// JournalConfig is the optional Postgres reload-event journal (component M).
// Empty DSN disables it entirely.
type JournalConfig struct {
	DSN string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cacheTTLMs := envInt64("ROUTER_CACHE_TTL_MS", 15000)
	return &Config{
		Bind:    envStr("ROUTER_BIND", ":8080"),
		Version: envStr("ROUTER_VERSION", "0.1.0"),
		Policy: PolicySourceConfig{
			Path: envStr("ROUTER_POLICY_PATH", "configs/policy.json"),
		},
		Catalog: CatalogSourceConfig{
			Path: envStr("ROUTER_CATALOG_PATH", "configs/catalog.json"),
		},
		Overlay: OverlaySourceConfig{
			Dir: envStr("ROUTER_OVERLAY_DIR", "configs/overlays"),
		},
		Cache: CacheConfig{
			Capacity: envInt("ROUTER_CACHE_CAPACITY", 4096),
			TTLMs:    cacheTTLMs,
			StaleMs:  envInt64("ROUTER_CACHE_STALE_MS", cacheTTLMs),
		},
		Sticky: StickyConfig{
			Secret: envStr("ROUTER_STICKY_SECRET", ""),
		},
		Embed: EmbeddingsConfig{
			Enabled:      envBool("ROUTER_EMBEDDINGS_ENABLED", false),
			Backend:      envStr("ROUTER_EMBEDDINGS_PROVIDER", "ollama"),
			OllamaURL:    envStr("ROUTER_EMBEDDINGS_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:  envStr("ROUTER_EMBEDDINGS_OLLAMA_MODEL", "nomic-embed-text"),
			OpenAIAPIKey: envStr("ROUTER_EMBEDDINGS_OPENAI_API_KEY", ""),
			OpenAIModel:  envStr("ROUTER_EMBEDDINGS_OPENAI_MODEL", "text-embedding-3-small"),
			TaskBankPath: envStr("ROUTER_CANONICAL_TASKS", "configs/canonical_tasks.json"),
			TopK:         envInt("ROUTER_EMBEDDINGS_TOP_K", 3),
			TimeoutMs:    envInt64("ROUTER_EMBEDDINGS_TIMEOUT_MS", 200),
			CacheTTLMs:   envInt64("ROUTER_EMBEDDINGS_CACHE_MS", 300000),
			AllowHashed:  envBool("ROUTER_EMBEDDINGS_ALLOW_HASHED", false),
		},
		RateLimit: RateLimitConfig{
			Burst:        envInt("ROUTER_PLAN_RATE_BURST", 64),
			RefillPerSec: envFloat("ROUTER_PLAN_RATE_REFILL_PER_SEC", 32),
		},
		Journal: JournalConfig{
			DSN: envStr("ROUTER_JOURNAL_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "arcrouter-control-plane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

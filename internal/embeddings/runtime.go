package embeddings

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Runtime ties a Backend, its similarity Router, and a text-embedding
// cache together into the single operation the planner calls:
// Select(ctx, summary) → *Selection. A singleflight.Group collapses
// concurrent cache-miss embedding calls for the same summary text onto
// one inference call, matching SPEC_FULL.md §5's requirement that
// embedding inference not be duplicated under request bursts.
type Runtime struct {
	backend Backend
	router  *Router
	cache   *Cache
	group   singleflight.Group
	timeout time.Duration
}

// NewRuntime builds a Runtime. timeout bounds how long Select will wait
// for a cache-miss embedding call before failing open (Select returns nil).
func NewRuntime(backend Backend, router *Router, cache *Cache, timeout time.Duration) *Runtime {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Runtime{backend: backend, router: router, cache: cache, timeout: timeout}
}

// Select embeds text (cache-hit or computed, deduplicated via
// singleflight) and returns the best canonical match, or nil if none
// clears the similarity floor, text is empty, or the embedding call
// timed out (a non-fatal condition — the planner proceeds without bias).
func (rt *Runtime) Select(ctx context.Context, text string) *Selection {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	vec, ok := rt.cache.Get(text)
	if !ok {
		computed, err := rt.embedWithTimeout(ctx, text)
		if err != nil || computed == nil {
			return nil
		}
		vec = computed
		rt.cache.Put(text, vec)
	}

	return rt.router.Select(vec)
}

func (rt *Runtime) embedWithTimeout(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()

	v, err, _ := rt.group.Do(text, func() (any, error) {
		vectors, err := rt.backend.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, nil
		}
		return normalize(vectors[0]), nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]float64), nil
}

// ExtractSummary picks the text used for canonical-task similarity:
// conversation.summary first, then overrides.canonical_summary, then
// overrides.summary, matching the original implementation's precedence.
func ExtractSummary(convSummary, overridesCanonical, overridesSummary string) string {
	if s := strings.TrimSpace(convSummary); s != "" {
		return s
	}
	if s := strings.TrimSpace(overridesCanonical); s != "" {
		return s
	}
	return strings.TrimSpace(overridesSummary)
}

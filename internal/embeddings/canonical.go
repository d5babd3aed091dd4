package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MinCanonicalScore is the similarity floor below which a canonical match
// is discarded, per SPEC_FULL.md §4.F / original implementation parity.
const MinCanonicalScore = 0.2

// Selection is the result of a canonical-task similarity match.
type Selection struct {
	ModelID      string
	CanonicalIDs []string
	Score        float64
}

// Hash returns a stable identifier for a Selection, used as the
// canonical_hash component of the plan cache key.
func (s Selection) Hash() string {
	h := sha256.New()
	h.Write([]byte(s.ModelID))
	for _, id := range s.CanonicalIDs {
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

type task struct {
	id             string
	preferredModel string
	weight         float64
	embedding      []float64
}

// Router holds the embedded canonical task bank and performs top-k
// similarity aggregation by preferred model.
type Router struct {
	tasks []task
	topK  int
}

type taskConfig struct {
	ID             string   `json:"id"`
	Text           string   `json:"text"`
	PreferredModel string   `json:"preferred_model"`
	Weight         float64  `json:"weight"`
	Tags           []string `json:"tags,omitempty"`
}

// LoadRouter reads the canonical task bank from path, embeds every entry
// with backend, and returns a Router ready to serve Select calls.
func LoadRouter(ctx context.Context, path string, backend Backend, topK int) (*Router, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("embeddings: read canonical task bank: %w", err)
	}
	var configs []taskConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("embeddings: parse canonical task bank: %w", err)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("embeddings: canonical task list cannot be empty")
	}

	texts := make([]string, len(configs))
	for i, c := range configs {
		texts[i] = c.Text
	}
	vectors, err := backend.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embeddings: embed canonical task bank: %w", err)
	}
	if len(vectors) != len(configs) {
		return nil, fmt.Errorf("embeddings: backend returned %d vectors for %d tasks", len(vectors), len(configs))
	}

	tasks := make([]task, len(configs))
	for i, c := range configs {
		w := c.Weight
		if w <= 0 {
			w = 1.0
		}
		tasks[i] = task{id: c.ID, preferredModel: c.PreferredModel, weight: w, embedding: normalize(vectors[i])}
	}

	if topK <= 0 {
		topK = 3
	}
	return &Router{tasks: tasks, topK: topK}, nil
}

// Select scores query against every canonical task, aggregates by
// preferred model over the top-k matches, and returns the best aggregate
// if it clears MinCanonicalScore.
func (r *Router) Select(query []float64) *Selection {
	if len(r.tasks) == 0 {
		return nil
	}

	type scored struct {
		score float64
		t     *task
	}
	all := make([]scored, len(r.tasks))
	for i := range r.tasks {
		t := &r.tasks[i]
		all[i] = scored{score: dot(t.embedding, query) * t.weight, t: t}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	k := r.topK
	if k > len(all) {
		k = len(all)
	}

	type agg struct {
		sum float64
		ids []string
	}
	byModel := make(map[string]*agg)
	for _, s := range all[:k] {
		if s.score <= 0 {
			continue
		}
		a, ok := byModel[s.t.preferredModel]
		if !ok {
			a = &agg{}
			byModel[s.t.preferredModel] = a
		}
		a.sum += s.score
		a.ids = append(a.ids, s.t.id)
	}

	var bestModel string
	var best *agg
	for model, a := range byModel {
		if best == nil || a.sum > best.sum {
			best, bestModel = a, model
		}
	}
	if best == nil {
		return nil
	}

	normalized := best.sum / float64(maxInt(k, 1))
	if normalized > 1 {
		normalized = 1
	}
	if normalized < MinCanonicalScore {
		return nil
	}
	return &Selection{ModelID: bestModel, CanonicalIDs: best.ids, Score: normalized}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func normalize(vec []float64) []float64 {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// Cache is a TTL cache from text-hash to its normalized embedding,
// collapsing repeated summaries (and, via singleflight at the call site,
// concurrent identical ones) onto one inference call.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	vec       []float64
	expiresAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *Cache) Get(text string) ([]float64, bool) {
	key := hashText(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.vec, true
}

func (c *Cache) Put(text string, vec []float64) {
	key := hashText(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{vec: vec, expiresAt: time.Now().Add(c.ttl)}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

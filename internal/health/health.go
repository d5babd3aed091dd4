// Package health tracks per-model rolling latency/error/throughput
// aggregates updated from route feedback, and read on every scoring pass.
package health

import (
	"sync"
	"time"

	"github.com/arcrouter/control-plane/pkg/models"
)

// DefaultAlpha is the EWMA smoothing factor applied to every feedback
// event, per SPEC_FULL.md §4.D.
const DefaultAlpha = 0.2

// Snapshot is the read-only view of a model's rolling health, seeded from
// catalog SLOs until feedback arrives.
type Snapshot struct {
	Requests       int64
	Successes      int64
	Failures       int64
	EWMALatencyMs  float64
	EWMAErrorRate  float64
	TokensPerSec   float64
	LastUpdated    time.Time
}

type entry struct {
	mu sync.Mutex
	Snapshot
}

// Tracker is a per-model health aggregate store. Models with no recorded
// feedback fall back to the catalog's SLO defaults at read time rather
// than being materialized eagerly, so the tracker only holds entries for
// models that have actually received feedback.
type Tracker struct {
	alpha   float64
	entries sync.Map // string model id -> *entry
}

// New builds a Tracker using DefaultAlpha.
func New() *Tracker { return &Tracker{alpha: DefaultAlpha} }

// NewWithAlpha builds a Tracker with a caller-supplied smoothing factor;
// a value outside (0, 1] falls back to DefaultAlpha.
func NewWithAlpha(alpha float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Tracker{alpha: alpha}
}

// Snapshot returns the current rolling aggregate for modelID, or a zero
// Snapshot (Requests == 0) if no feedback has ever been recorded — callers
// should fall back to catalog SLOs in that case.
func (t *Tracker) Snapshot(modelID string) Snapshot {
	v, ok := t.entries.Load(modelID)
	if !ok {
		return Snapshot{}
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Snapshot
}

// Update folds one feedback event into modelID's rolling aggregate.
// Concurrent updates to distinct models never contend; updates to the
// same model are serialized by the entry's own mutex, never a global one.
func (t *Tracker) Update(fb models.RouteFeedback) {
	v, _ := t.entries.LoadOrStore(fb.ModelID, &entry{})
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.Requests++
	if fb.Success {
		e.Successes++
	} else {
		e.Failures++
	}

	latency := float64(fb.DurationMs)
	e.EWMALatencyMs = blend(e.EWMALatencyMs, latency, t.alpha)

	errVal := 0.0
	if !fb.Success {
		errVal = 1.0
	}
	e.EWMAErrorRate = blend(e.EWMAErrorRate, errVal, t.alpha)

	if fb.Usage != nil && fb.DurationMs > 0 {
		total := float64(fb.Usage.PromptTokens + fb.Usage.CompletionTokens)
		tps := total / (float64(fb.DurationMs) / 1000.0)
		e.TokensPerSec = blend(e.TokensPerSec, tps, t.alpha)
	}

	e.LastUpdated = time.Now()
}

func blend(prev, next, alpha float64) float64 {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return prev + (next-prev)*alpha
}

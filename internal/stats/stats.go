// Package stats aggregates monotonic counters for the GET /stats surface.
package stats

import (
	"sync"
	"sync/atomic"

	"github.com/arcrouter/control-plane/pkg/models"
)

// Aggregator holds atomic request/cache/error counters, shared across the
// facade. No global lock guards the hot path; only the per-key maps
// (model share, error codes) take a small mutex.
type Aggregator struct {
	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	cacheStale    atomic.Int64

	shareMu    sync.Mutex
	modelShare map[string]int64

	errMu   sync.Mutex
	errByCode map[string]int64
}

// New builds an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		modelShare: make(map[string]int64),
		errByCode:  make(map[string]int64),
	}
}

// RecordRequest increments total_requests and the cache-state counter for
// the given status.
func (a *Aggregator) RecordRequest(status models.CacheStatus) {
	a.totalRequests.Add(1)
	switch status {
	case models.CacheHit:
		a.cacheHits.Add(1)
	case models.CacheMiss:
		a.cacheMisses.Add(1)
	case models.CacheStale:
		a.cacheStale.Add(1)
	}
}

// RecordModel increments the given model's share counter.
func (a *Aggregator) RecordModel(modelID string) {
	a.shareMu.Lock()
	a.modelShare[modelID]++
	a.shareMu.Unlock()
}

// RecordError increments the error counter for the given taxonomy code.
func (a *Aggregator) RecordError(code string) {
	a.errMu.Lock()
	a.errByCode[code]++
	a.errMu.Unlock()
}

// Snapshot renders the current counters as the GET /stats response body.
func (a *Aggregator) Snapshot() models.RouterStats {
	total := a.totalRequests.Load()
	hits := a.cacheHits.Load()

	a.shareMu.Lock()
	share := make(map[string]int64, len(a.modelShare))
	for k, v := range a.modelShare {
		share[k] = v
	}
	a.shareMu.Unlock()

	a.errMu.Lock()
	errs := make(map[string]int64, len(a.errByCode))
	var totalErrs int64
	for k, v := range a.errByCode {
		errs[k] = v
		totalErrs += v
	}
	a.errMu.Unlock()

	var hitRatio, errRate float64
	if total > 0 {
		hitRatio = float64(hits) / float64(total)
		errRate = float64(totalErrs) / float64(total)
	}

	return models.RouterStats{
		TotalRequests:    total,
		CacheHits:        hits,
		CacheMisses:      a.cacheMisses.Load(),
		CacheStale:       a.cacheStale.Load(),
		CacheHitRatio:    hitRatio,
		ModelShare:       share,
		ErrorCountByCode: errs,
		ErrorRate:        errRate,
	}
}

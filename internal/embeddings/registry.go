// Package embeddings provides the pluggable embedding provider capability
// set (embed(text) → vector) and the canonical-task similarity biaser
// built on top of it. Adapted from the teacher's embedding driver
// registry, generalized from a multi-tenant provider-discovery registry
// down to the handful of interchangeable backends this control plane
// actually needs: a real HTTP-backed provider and a deterministic
// hash-based one for tests.
package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Backend is the capability set every embedding provider implements. Kept
// tiny per SPEC_FULL.md §9's design note so adapters can own their own
// connection pools without the registry knowing anything about transport.
type Backend interface {
	Kind() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	HealthCheck(ctx context.Context) error
}

// Registry holds named embedding backends. Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty embedding registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under the given name. Overwrites if it exists.
func (r *Registry) Register(name string, backend Backend) {
	r.mu.Lock()
	r.backends[name] = backend
	r.mu.Unlock()
	log.Info().Str("name", name).Str("kind", backend.Kind()).Int("dims", backend.Dimensions()).Msg("embedding backend registered")
}

// Get returns the backend by name, or an error if not found.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("embedding backend not found: %s", name)
	}
	return b, nil
}

// List returns all registered backend names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// HealthCheckAll pings every registered backend and returns errors keyed
// by name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Backend, len(r.backends))
	for k, v := range r.backends {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, b := range snapshot {
		results[name] = b.HealthCheck(ctx)
	}
	return results
}

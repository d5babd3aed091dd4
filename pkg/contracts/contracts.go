// Package contracts defines the OSS/Pro boundary for the router control
// plane: the interfaces a downstream distribution composes against
// instead of reaching into internal/. Adapted from the teacher's
// contracts package, which drew this same boundary around its
// agent/recipe/workflow services — here narrowed to the capabilities
// this control plane actually exports: planning, feedback, reload,
// stats, and capability flags.
package contracts

import (
	"context"

	"github.com/arcrouter/control-plane/pkg/models"
)

// Planner resolves a RouteRequest to a RoutePlan and folds realized
// feedback back into health tracking. A Pro distribution might wrap this
// with an approval gate or multi-region fanout without touching the core.
type Planner interface {
	Plan(ctx context.Context, req models.RouteRequest, sourceIdentity string) (*models.RoutePlan, error)
	RecordFeedback(ctx context.Context, fb models.RouteFeedback) error
}

// Reloader swaps in a new policy, catalog, or overlay set. Implementations
// must reject an invalid document wholesale rather than partially apply it.
type Reloader interface {
	ReloadPolicy(ctx context.Context, doc models.PolicyDocument) error
	ReloadCatalog(ctx context.Context, doc models.CatalogDocument) error
	ReloadOverlays(ctx context.Context) error
}

// StatsProvider exposes the aggregate counters behind GET /stats.
type StatsProvider interface {
	Stats() models.RouterStats
}

// CapabilitiesProvider exposes the behavior flags behind GET /capabilities.
type CapabilitiesProvider interface {
	Capabilities() models.CapabilitiesResponse
}

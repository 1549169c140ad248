// Package routing resolves inbound events to the set of routes that should
// receive them.
package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/c360studio/metahub/store"
)

// Resolver matches inbound source identifiers against configured routes.
type Resolver struct {
	store *store.Store
}

// NewResolver creates a resolver over the entity store.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve returns the ordered set of active routes matching the source.
// Routes with an empty source_id are catch-alls and match any identifier.
// Ordering is priority descending with creation time ascending as the
// tie-breaker. Routes and destinations are read with snapshot semantics:
// a config change mid-flight affects the next resolution, not this one.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, sourceType, sourceID string) ([]*store.Route, error) {
	routes, err := r.store.ListRoutes(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return Match(routes, sourceType, sourceID), nil
}

// ResolveAll matches across every workspace. Inbound webhooks arrive without
// a tenant; the owning workspace is taken from each matched route.
func (r *Resolver) ResolveAll(ctx context.Context, sourceType, sourceID string) ([]*store.Route, error) {
	routes, err := r.store.AllRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return Match(routes, sourceType, sourceID), nil
}

// Match filters and orders an in-memory route set. Split out of Resolve for
// testability; the matching rules are documented there.
func Match(routes []*store.Route, sourceType, sourceID string) []*store.Route {
	var out []*store.Route
	for _, rt := range routes {
		if !rt.IsActive || rt.DeletedAt != nil {
			continue
		}
		if rt.SourceType != sourceType {
			continue
		}
		if rt.SourceID != "" && rt.SourceID != sourceID {
			continue
		}
		out = append(out, rt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

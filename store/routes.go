package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRoute validates and stores a new route. An empty filter_rules array
// is normalized to nil: both mean "accept all events".
func (s *Store) CreateRoute(ctx context.Context, r *Route) (string, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("invalid route: %w", err)
	}
	if r.FilterRules != nil && len(r.FilterRules.EventTypes) == 0 {
		r.FilterRules = nil
	}
	r.ID = uuid.New().String()
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := createJSON(ctx, s.routes, r.ID, r); err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetRoute retrieves a route by id.
func (s *Store) GetRoute(ctx context.Context, id string) (*Route, error) {
	var r Route
	if err := getJSON(ctx, s.routes, id, &r); err != nil {
		return nil, err
	}
	if r.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &r, nil
}

// ListRoutes returns a workspace's live routes.
func (s *Store) ListRoutes(ctx context.Context, workspaceID string) ([]*Route, error) {
	var out []*Route
	err := forEachJSON(ctx, s.routes, func(r *Route) bool {
		if r.WorkspaceID == workspaceID && r.DeletedAt == nil {
			out = append(out, r)
		}
		return true
	})
	return out, err
}

// AllRoutes returns live routes across every workspace. Inbound webhooks
// carry no tenant, so the receiver matches against the full route set and
// takes the workspace from each matched route.
func (s *Store) AllRoutes(ctx context.Context) ([]*Route, error) {
	var out []*Route
	err := forEachJSON(ctx, s.routes, func(r *Route) bool {
		if r.DeletedAt == nil {
			out = append(out, r)
		}
		return true
	})
	return out, err
}

// DeleteRoute soft-deletes a route.
func (s *Store) DeleteRoute(ctx context.Context, workspaceID, id string) error {
	r, err := s.GetRoute(ctx, id)
	if err != nil {
		return err
	}
	if r.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	now := time.Now()
	r.DeletedAt = &now
	r.IsActive = false
	r.UpdatedAt = now
	return putJSON(ctx, s.routes, r.ID, r)
}

// DetachMapping removes a deleted mapping from every route that references
// it. The routes stay active with pass-through behaviour.
func (s *Store) DetachMapping(ctx context.Context, workspaceID, mappingID string) error {
	routes, err := s.ListRoutes(ctx, workspaceID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, r := range routes {
		if r.MappingID != mappingID {
			continue
		}
		r.MappingID = ""
		r.UpdatedAt = now
		if err := putJSON(ctx, s.routes, r.ID, r); err != nil {
			return fmt.Errorf("detach mapping from route %s: %w", r.ID, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateDestination validates and stores a new destination.
func (s *Store) CreateDestination(ctx context.Context, d *Destination) (string, error) {
	if d.TimeoutMs == 0 {
		d.TimeoutMs = 10000
	}
	if d.Method == "" {
		d.Method = "POST"
	}
	if d.AuthType == "" {
		d.AuthType = AuthNone
	}
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid destination: %w", err)
	}
	d.ID = uuid.New().String()
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := createJSON(ctx, s.destinations, d.ID, d); err != nil {
		return "", err
	}
	return d.ID, nil
}

// GetDestination retrieves a destination by id. Soft-deleted destinations
// are reported as not found.
func (s *Store) GetDestination(ctx context.Context, id string) (*Destination, error) {
	var d Destination
	if err := getJSON(ctx, s.destinations, id, &d); err != nil {
		return nil, err
	}
	if d.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &d, nil
}

// UpdateDestination validates and stores an existing destination.
func (s *Store) UpdateDestination(ctx context.Context, d *Destination) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}
	d.UpdatedAt = time.Now()
	return putJSON(ctx, s.destinations, d.ID, d)
}

// ListDestinations returns a workspace's live destinations.
func (s *Store) ListDestinations(ctx context.Context, workspaceID string) ([]*Destination, error) {
	var out []*Destination
	err := forEachJSON(ctx, s.destinations, func(d *Destination) bool {
		if d.WorkspaceID == workspaceID && d.DeletedAt == nil {
			out = append(out, d)
		}
		return true
	})
	return out, err
}

// DeleteDestination soft-deletes a destination and deactivates every route
// referencing it.
func (s *Store) DeleteDestination(ctx context.Context, workspaceID, id string) error {
	d, err := s.GetDestination(ctx, id)
	if err != nil {
		return err
	}
	if d.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	now := time.Now()
	d.DeletedAt = &now
	d.IsActive = false
	d.UpdatedAt = now
	if err := putJSON(ctx, s.destinations, d.ID, d); err != nil {
		return err
	}

	routes, err := s.ListRoutes(ctx, workspaceID)
	if err != nil {
		return err
	}
	for _, r := range routes {
		if r.DestinationID != id || !r.IsActive {
			continue
		}
		r.IsActive = false
		r.UpdatedAt = now
		if err := putJSON(ctx, s.routes, r.ID, r); err != nil {
			return fmt.Errorf("deactivate route %s: %w", r.ID, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360studio/metahub/mapping"
)

// CreateMapping validates and stores a new mapping definition.
func (s *Store) CreateMapping(ctx context.Context, m *mapping.Mapping) (string, error) {
	if m.WorkspaceID == "" {
		return "", fmt.Errorf("invalid mapping: workspace_id is required")
	}
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("invalid mapping: %w", err)
	}
	m.ID = uuid.New().String()
	if err := createJSON(ctx, s.mappings, m.ID, m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// GetMapping retrieves a mapping by id.
func (s *Store) GetMapping(ctx context.Context, id string) (*mapping.Mapping, error) {
	var m mapping.Mapping
	if err := getJSON(ctx, s.mappings, id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMappings returns a workspace's mappings.
func (s *Store) ListMappings(ctx context.Context, workspaceID string) ([]*mapping.Mapping, error) {
	var out []*mapping.Mapping
	err := forEachJSON(ctx, s.mappings, func(m *mapping.Mapping) bool {
		if m.WorkspaceID == workspaceID {
			out = append(out, m)
		}
		return true
	})
	return out, err
}

// DeleteMapping removes a mapping and detaches it from referencing routes.
func (s *Store) DeleteMapping(ctx context.Context, workspaceID, id string) error {
	m, err := s.GetMapping(ctx, id)
	if err != nil {
		return err
	}
	if m.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	if err := s.mappings.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	return s.DetachMapping(ctx, workspaceID, id)
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// UpsertIntegration stores the tenant's Meta integration. One integration
// per workspace: the workspace id doubles as the key.
func (s *Store) UpsertIntegration(ctx context.Context, i *Integration) error {
	now := time.Now()
	if i.ID == "" {
		i.ID = uuid.New().String()
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	return putJSON(ctx, s.integrations, i.WorkspaceID, i)
}

// GetIntegration retrieves a workspace's Meta integration.
func (s *Store) GetIntegration(ctx context.Context, workspaceID string) (*Integration, error) {
	var i Integration
	if err := getJSON(ctx, s.integrations, workspaceID, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

// PageTokenFor returns the page-scoped token for a lead form resource when
// the integration carries one, falling back to the long-lived user token.
func (i *Integration) PageTokenFor(formID string) string {
	for _, r := range i.Resources {
		if r.Kind == ResourceLeadForm && r.ResourceID == formID && r.PageToken != "" {
			return r.PageToken
		}
	}
	return i.AccessToken
}

// Membership maps a user to a role inside a workspace.
type Membership struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// PutMembership stores a workspace membership.
func (s *Store) PutMembership(ctx context.Context, m *Membership) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return putJSON(ctx, s.memberships, m.WorkspaceID+"."+m.UserID, m)
}

// IsMember reports whether the user belongs to the workspace.
func (s *Store) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var m Membership
	err := getJSON(ctx, s.memberships, workspaceID+"."+userID, &m)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

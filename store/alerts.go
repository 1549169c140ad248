package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CreateAlertRule validates and stores a new alert rule.
func (s *Store) CreateAlertRule(ctx context.Context, r *AlertRule) (string, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("invalid alert rule: %w", err)
	}
	r.ID = uuid.New().String()
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := createJSON(ctx, s.alertRules, r.ID, r); err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetAlertRule retrieves an alert rule by id.
func (s *Store) GetAlertRule(ctx context.Context, id string) (*AlertRule, error) {
	var r AlertRule
	if err := getJSON(ctx, s.alertRules, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListActiveAlertRules returns every active rule across all workspaces.
// The evaluator iterates them on each tick.
func (s *Store) ListActiveAlertRules(ctx context.Context) ([]*AlertRule, error) {
	var out []*AlertRule
	err := forEachJSON(ctx, s.alertRules, func(r *AlertRule) bool {
		if r.IsActive {
			out = append(out, r)
		}
		return true
	})
	return out, err
}

// MarkRuleTriggered bumps the rule's trigger bookkeeping after a firing.
func (s *Store) MarkRuleTriggered(ctx context.Context, id string, at time.Time) error {
	r, err := s.GetAlertRule(ctx, id)
	if err != nil {
		return err
	}
	r.LastTriggeredAt = &at
	r.TriggerCount++
	r.UpdatedAt = at
	return putJSON(ctx, s.alertRules, r.ID, r)
}

// CreateAlertHistory records one firing of a rule.
func (s *Store) CreateAlertHistory(ctx context.Context, h *AlertHistory) (string, error) {
	h.ID = uuid.New().String()
	h.Status = AlertTriggered
	if h.NotifiedVia == nil {
		h.NotifiedVia = []string{}
	}
	h.CreatedAt = time.Now()
	if err := createJSON(ctx, s.alertHistory, h.ID, h); err != nil {
		return "", err
	}
	return h.ID, nil
}

// GetAlertHistory retrieves one alert firing by id.
func (s *Store) GetAlertHistory(ctx context.Context, id string) (*AlertHistory, error) {
	var h AlertHistory
	if err := getJSON(ctx, s.alertHistory, id, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// UpdateAlertHistory stores a modified alert firing (lifecycle updates).
func (s *Store) UpdateAlertHistory(ctx context.Context, h *AlertHistory) error {
	return putJSON(ctx, s.alertHistory, h.ID, h)
}

// ListAlertHistory returns a workspace's alert firings, newest first.
func (s *Store) ListAlertHistory(ctx context.Context, workspaceID string, limit int) ([]*AlertHistory, error) {
	var out []*AlertHistory
	err := forEachJSON(ctx, s.alertHistory, func(h *AlertHistory) bool {
		if h.WorkspaceID == workspaceID {
			out = append(out, h)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

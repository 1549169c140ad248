package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CreateEvent stores a new delivery event and returns its id. Status and
// bookkeeping fields are initialized here; callers only supply the routing
// result and payloads.
func (s *Store) CreateEvent(ctx context.Context, ev *DeliveryEvent) (string, error) {
	ev.ID = uuid.New().String()
	ev.Status = StatusPending
	ev.AttemptsCount = 0
	if ev.MaxAttempts <= 0 {
		ev.MaxAttempts = DefaultMaxAttempts
	}
	now := time.Now()
	if ev.NextRetryAt == nil {
		ev.NextRetryAt = &now
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now

	if err := createJSON(ctx, s.events, ev.ID, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// GetEvent retrieves a delivery event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*DeliveryEvent, error) {
	var ev DeliveryEvent
	if err := getJSON(ctx, s.events, id, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Transition moves an event from one of the expected statuses to a new one,
// applying mutate in between. The update is conditional on both the expected
// status and the KV revision; losing either check returns ErrConflict, which
// workers treat as "someone else claimed it" and skip silently.
func (s *Store) Transition(ctx context.Context, id string, from []EventStatus, to EventStatus, mutate func(*DeliveryEvent)) (*DeliveryEvent, error) {
	entry, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}

	var ev DeliveryEvent
	if err := json.Unmarshal(entry.Value(), &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event %s: %w", id, err)
	}

	allowed := false
	for _, f := range from {
		if ev.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrConflict
	}

	ev.Status = to
	if mutate != nil {
		mutate(&ev)
	}
	normalizeEvent(&ev, time.Now())

	data, err := json.Marshal(&ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", id, err)
	}
	if _, err := s.events.Update(ctx, id, data, entry.Revision()); err != nil {
		// A revision mismatch means another worker got there first.
		return nil, ErrConflict
	}
	return &ev, nil
}

// normalizeEvent enforces the state machine invariants after a transition:
// terminal states carry no retry schedule, delivered_at is set exactly for
// delivered events.
func normalizeEvent(ev *DeliveryEvent, now time.Time) {
	ev.UpdatedAt = now
	if ev.Status.Terminal() {
		ev.NextRetryAt = nil
	}
	switch ev.Status {
	case StatusDelivered:
		if ev.DeliveredAt == nil {
			ev.DeliveredAt = &now
		}
		ev.ErrorMessage = ""
		ev.FailedAt = nil
	case StatusFailed, StatusDLQ:
		if ev.FailedAt == nil {
			ev.FailedAt = &now
		}
		ev.DeliveredAt = nil
	case StatusPending:
		ev.DeliveredAt = nil
		ev.FailedAt = nil
	}
}

// AppendAttempt records one delivery attempt. Attempt keys are
// "<event>.<n>" and are create-only, which keeps the history append-only
// and the numbering dense.
func (s *Store) AppendAttempt(ctx context.Context, a *DeliveryAttempt) error {
	if a.EventID == "" || a.AttemptNumber < 1 {
		return fmt.Errorf("attempt requires event_id and a 1-based attempt_number")
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}
	key := fmt.Sprintf("%s.%d", a.EventID, a.AttemptNumber)
	return createJSON(ctx, s.attempts, key, a)
}

// ListAttempts returns all attempts for an event ordered by attempt number.
func (s *Store) ListAttempts(ctx context.Context, eventID string) ([]*DeliveryAttempt, error) {
	var out []*DeliveryAttempt
	err := forEachJSON(ctx, s.attempts, func(a *DeliveryAttempt) bool {
		if a.EventID == eventID {
			out = append(out, a)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

// QueryByStatus returns up to limit events in any of the given statuses that
// are ready to run (next_retry_at absent or ≤ readyBefore), oldest first.
func (s *Store) QueryByStatus(ctx context.Context, statuses []EventStatus, readyBefore time.Time, limit int) ([]*DeliveryEvent, error) {
	want := make(map[EventStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []*DeliveryEvent
	err := forEachJSON(ctx, s.events, func(ev *DeliveryEvent) bool {
		if !want[ev.Status] {
			return true
		}
		if ev.NextRetryAt != nil && ev.NextRetryAt.After(readyBefore) {
			return true
		}
		out = append(out, ev)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if out[i].NextRetryAt != nil {
			ti = *out[i].NextRetryAt
		}
		if out[j].NextRetryAt != nil {
			tj = *out[j].NextRetryAt
		}
		return ti.Before(tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus counts a workspace's events currently in the given status.
func (s *Store) CountByStatus(ctx context.Context, workspaceID string, status EventStatus) (int, error) {
	count := 0
	err := forEachJSON(ctx, s.events, func(ev *DeliveryEvent) bool {
		if ev.WorkspaceID == workspaceID && ev.Status == status {
			count++
		}
		return true
	})
	return count, err
}

// CountCreatedSince counts a workspace's events created after the cutoff.
func (s *Store) CountCreatedSince(ctx context.Context, workspaceID string, since time.Time) (int, error) {
	count := 0
	err := forEachJSON(ctx, s.events, func(ev *DeliveryEvent) bool {
		if ev.WorkspaceID == workspaceID && ev.CreatedAt.After(since) {
			count++
		}
		return true
	})
	return count, err
}

// StatsByWindow aggregates a workspace's events created in the trailing
// window. Latency is averaged over delivered events only.
func (s *Store) StatsByWindow(ctx context.Context, workspaceID string, window time.Duration) (*WindowStats, error) {
	cutoff := time.Now().Add(-window)
	stats := &WindowStats{}
	var latencySum float64

	err := forEachJSON(ctx, s.events, func(ev *DeliveryEvent) bool {
		if ev.WorkspaceID != workspaceID || ev.CreatedAt.Before(cutoff) {
			return true
		}
		stats.Total++
		switch ev.Status {
		case StatusDelivered:
			stats.Delivered++
			if ev.DeliveredAt != nil {
				latencySum += float64(ev.DeliveredAt.Sub(ev.CreatedAt).Milliseconds())
			}
		case StatusFailed:
			stats.Failed++
		case StatusDLQ:
			stats.DLQ++
		case StatusPending, StatusProcessing:
			stats.Pending++
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Delivered) / float64(stats.Total)
	}
	if stats.Delivered > 0 {
		stats.AvgLatencyMs = latencySum / float64(stats.Delivered)
	}
	return stats, nil
}

// RecentAttempts returns a workspace's latest attempts, newest first,
// bounded by limit. Used by the consecutive-failure alert condition.
func (s *Store) RecentAttempts(ctx context.Context, workspaceID string, limit int) ([]*DeliveryAttempt, error) {
	var out []*DeliveryAttempt
	err := forEachJSON(ctx, s.attempts, func(a *DeliveryAttempt) bool {
		if a.WorkspaceID == workspaceID {
			out = append(out, a)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

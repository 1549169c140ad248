package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/metahub/logsink"
	"github.com/c360studio/metahub/store"
)

// Backoff schedule bounds.
const (
	baseBackoff = time.Minute
	maxBackoff  = time.Hour
)

// backoffDelay returns the wait before retry n+1 after n failed attempts:
// 1m, 2m, 4m, 8m, ... capped at one hour.
func backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	// 2^(n-1) overflows quickly; past the cap the shift no longer matters.
	if attempts > 12 {
		return maxBackoff
	}
	d := baseBackoff << (attempts - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Worker drives the delivery state machine: it claims due events, calls
// their destinations and records the outcome. Workers are safe to run
// concurrently; the store's conditional transitions arbitrate claims.
type Worker struct {
	store   *store.Store
	client  *Client
	sink    *logsink.Sink
	logger  *slog.Logger
	metrics *Metrics
}

// NewWorker creates a delivery worker.
func NewWorker(st *store.Store, client *Client, sink *logsink.Sink, logger *slog.Logger, metrics *Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = NewClient()
	}
	return &Worker{store: st, client: client, sink: sink, logger: logger, metrics: metrics}
}

// ProcessResult summarizes one sweep.
type ProcessResult struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Process claims up to limit due events (pending or failed with an elapsed
// retry time) and delivers each. Events another worker claims first are
// counted as skipped, not failures.
func (w *Worker) Process(ctx context.Context, limit int) (*ProcessResult, error) {
	events, err := w.store.QueryByStatus(ctx, []store.EventStatus{store.StatusPending, store.StatusFailed}, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due events: %w", err)
	}

	result := &ProcessResult{}
	for _, ev := range events {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		final, err := w.Deliver(ctx, ev.ID)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			w.logger.Warn("Delivery pass failed",
				"event_id", ev.ID,
				"error", err)
			continue
		}
		result.Processed++
		if final.Status == store.StatusDelivered {
			result.Delivered++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// Deliver runs one attempt for the event: claim, call, record, settle.
// Returns ErrConflict when the event is not claimable (already taken by
// another worker, or in a state that does not admit delivery).
func (w *Worker) Deliver(ctx context.Context, eventID string) (*store.DeliveryEvent, error) {
	ev, err := w.store.Transition(ctx, eventID,
		[]store.EventStatus{store.StatusPending, store.StatusFailed},
		store.StatusProcessing,
		func(e *store.DeliveryEvent) { e.AttemptsCount++ })
	if err != nil {
		return nil, err
	}

	dest, err := w.store.GetDestination(ctx, ev.DestinationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return w.cancel(ctx, ev, "Destination not found")
		}
		// A transient store failure is not a verdict on the destination.
		return w.release(ctx, ev, err)
	}
	if !dest.IsActive {
		return w.cancel(ctx, ev, "Destination inactive")
	}

	res := w.client.Call(ctx, dest, ev.Body(), ev.ID, ev.AttemptsCount)
	w.metrics.observeAttempt(res)

	attempt := &store.DeliveryAttempt{
		EventID:       ev.ID,
		WorkspaceID:   ev.WorkspaceID,
		DestinationID: dest.ID,
		AttemptNumber: ev.AttemptsCount,
		RequestURL:    dest.URL,
		RequestMethod: dest.Method,
		StatusCode:    res.StatusCode,
		ResponseBody:  res.ResponseBody,
		ErrorMessage:  res.ErrorMessage,
		DurationMs:    res.DurationMs,
	}
	if err := w.store.AppendAttempt(ctx, attempt); err != nil {
		w.logger.Warn("Failed to record attempt",
			"event_id", ev.ID,
			"attempt", ev.AttemptsCount,
			"error", err)
	}

	if res.Success() {
		return w.settleDelivered(ctx, ev, res)
	}
	return w.settleFailure(ctx, ev, res)
}

func (w *Worker) settleDelivered(ctx context.Context, ev *store.DeliveryEvent, res *AttemptResult) (*store.DeliveryEvent, error) {
	final, err := w.store.Transition(ctx, ev.ID,
		[]store.EventStatus{store.StatusProcessing},
		store.StatusDelivered, nil)
	if err != nil {
		return nil, err
	}
	w.metrics.observeOutcome("delivered")
	w.sink.Log(ctx, ev.WorkspaceID, logsink.LevelInfo, logsink.CategoryDelivery,
		"event.delivered",
		fmt.Sprintf("Delivered event after %d attempt(s)", final.AttemptsCount),
		map[string]any{
			"event_id":       ev.ID,
			"destination_id": ev.DestinationID,
			"status_code":    res.StatusCode,
			"duration_ms":    res.DurationMs,
		})
	return final, nil
}

func (w *Worker) settleFailure(ctx context.Context, ev *store.DeliveryEvent, res *AttemptResult) (*store.DeliveryEvent, error) {
	if ev.AttemptsCount >= ev.MaxAttempts {
		final, err := w.store.Transition(ctx, ev.ID,
			[]store.EventStatus{store.StatusProcessing},
			store.StatusDLQ,
			func(e *store.DeliveryEvent) { e.ErrorMessage = res.ErrorMessage })
		if err != nil {
			return nil, err
		}
		w.metrics.observeOutcome("dlq")
		w.sink.Log(ctx, ev.WorkspaceID, logsink.LevelError, logsink.CategoryDelivery,
			"event.dlq",
			fmt.Sprintf("Event moved to DLQ after %d attempts: %s", final.AttemptsCount, res.ErrorMessage),
			map[string]any{
				"event_id":       ev.ID,
				"destination_id": ev.DestinationID,
			})
		return final, nil
	}

	retryAt := time.Now().Add(backoffDelay(ev.AttemptsCount))
	final, err := w.store.Transition(ctx, ev.ID,
		[]store.EventStatus{store.StatusProcessing},
		store.StatusFailed,
		func(e *store.DeliveryEvent) {
			e.ErrorMessage = res.ErrorMessage
			e.NextRetryAt = &retryAt
		})
	if err != nil {
		return nil, err
	}
	w.metrics.observeOutcome("failed")
	w.sink.Log(ctx, ev.WorkspaceID, logsink.LevelWarn, logsink.CategoryDelivery,
		"event.failed",
		fmt.Sprintf("Attempt %d/%d failed: %s", final.AttemptsCount, final.MaxAttempts, res.ErrorMessage),
		map[string]any{
			"event_id":      ev.ID,
			"next_retry_at": retryAt,
		})
	return final, nil
}

// release undoes a claim when the attempt could not even start: the event
// returns to pending with its attempt counter restored, so the sweep retries
// it without consuming attempt budget.
func (w *Worker) release(ctx context.Context, ev *store.DeliveryEvent, cause error) (*store.DeliveryEvent, error) {
	retryAt := time.Now().Add(backoffDelay(ev.AttemptsCount))
	_, err := w.store.Transition(ctx, ev.ID,
		[]store.EventStatus{store.StatusProcessing},
		store.StatusPending,
		func(e *store.DeliveryEvent) {
			e.AttemptsCount--
			e.NextRetryAt = &retryAt
		})
	if err != nil {
		return nil, fmt.Errorf("release claim for %s: %w (after: %v)", ev.ID, err, cause)
	}
	w.logger.Warn("Released delivery claim",
		"event_id", ev.ID,
		"retry_at", retryAt,
		"error", cause)
	return nil, fmt.Errorf("destination lookup for %s: %w", ev.ID, cause)
}

func (w *Worker) cancel(ctx context.Context, ev *store.DeliveryEvent, reason string) (*store.DeliveryEvent, error) {
	final, err := w.store.Transition(ctx, ev.ID,
		[]store.EventStatus{store.StatusProcessing},
		store.StatusCancelled,
		func(e *store.DeliveryEvent) { e.ErrorMessage = reason })
	if err != nil {
		return nil, err
	}
	w.metrics.observeOutcome("cancelled")
	w.sink.Log(ctx, ev.WorkspaceID, logsink.LevelWarn, logsink.CategoryDelivery,
		"event.cancelled", reason,
		map[string]any{
			"event_id":       ev.ID,
			"destination_id": ev.DestinationID,
		})
	return final, nil
}

// Resend requeues a failed or dead-lettered event. The attempt budget grows
// by one so a resend always gets at least one fresh try; a resent event
// that fails again lands back in the DLQ.
func (w *Worker) Resend(ctx context.Context, eventID string) (*store.DeliveryEvent, error) {
	now := time.Now()
	ev, err := w.store.Transition(ctx, eventID,
		[]store.EventStatus{store.StatusFailed, store.StatusDLQ},
		store.StatusPending,
		func(e *store.DeliveryEvent) {
			e.MaxAttempts++
			e.NextRetryAt = &now
			e.ErrorMessage = ""
		})
	if err != nil {
		return nil, err
	}
	w.sink.Log(ctx, ev.WorkspaceID, logsink.LevelInfo, logsink.CategoryDelivery,
		"event.resend",
		fmt.Sprintf("Event requeued manually (attempt budget now %d)", ev.MaxAttempts),
		map[string]any{"event_id": ev.ID})
	return ev, nil
}

// samplePayload is the canned body used by destination tests.
var samplePayload = json.RawMessage(`{"test":true,"source":"metahub","message":"This is a test delivery"}`)

// TestDestination sends the sample payload to a destination without touching
// any event. Used by the "test destination" endpoint so customers can verify
// connectivity before routing real traffic.
func (w *Worker) TestDestination(ctx context.Context, destinationID string) (*AttemptResult, error) {
	dest, err := w.store.GetDestination(ctx, destinationID)
	if err != nil {
		return nil, err
	}
	res := w.client.Call(ctx, dest, samplePayload, "test", 1)
	w.sink.Log(ctx, dest.WorkspaceID, logsink.LevelInfo, logsink.CategoryDelivery,
		"destination.test",
		fmt.Sprintf("Test delivery to %s", dest.URL),
		map[string]any{
			"destination_id": dest.ID,
			"status_code":    res.StatusCode,
			"error":          res.ErrorMessage,
		})
	return res, nil
}

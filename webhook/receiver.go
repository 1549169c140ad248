package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/metahub/delivery"
	"github.com/c360studio/metahub/logsink"
	"github.com/c360studio/metahub/mapping"
	"github.com/c360studio/metahub/payload"
	"github.com/c360studio/metahub/store"
)

// EnvelopeResult reports how the envelope fared: events durably created
// versus events that should have been created but were not. Any failure
// means Meta must be answered with a 500 so it retries the envelope.
type EnvelopeResult struct {
	Created int
	Failed  int
}

// ProcessEnvelope classifies every change in the envelope, resolves routes
// and creates one delivery event per accepted route. The receiver never
// delivers inline: each created event gets a dispatch nudge and the workers
// take it from there, so Meta's acknowledgement is independent of delivery
// outcome. Enqueue is the one thing it does block on: an event that could
// not be stored counts as failed.
func (c *Component) ProcessEnvelope(ctx context.Context, env *Envelope) EnvelopeResult {
	c.envelopesReceived.Add(1)
	c.updateLastActivity()

	var result EnvelopeResult
	// Leads are enriched at most once per workspace per envelope.
	leadCache := make(map[string]payload.Document)

	for _, entry := range env.Entry {
		for _, ch := range entry.Changes {
			ev, err := Classify(env.Object, ch)
			if err != nil {
				c.logger.Warn("Failed to classify webhook change",
					"object", env.Object,
					"field", ch.Field,
					"error", err)
				continue
			}
			if ev == nil {
				continue
			}
			created, failed := c.processEvent(ctx, ev, entry.ID, leadCache)
			result.Created += created
			result.Failed += failed
		}
	}
	return result
}

func (c *Component) processEvent(ctx context.Context, ev *InboundEvent, entryID string, leadCache map[string]payload.Document) (created, failed int) {
	dup, err := c.deduper.Seen(ctx, ev.SourceEventID)
	if err != nil {
		// Fail open: dropping webhooks on a Redis outage is worse than
		// an occasional duplicate forward.
		c.logger.Warn("Dedup check failed",
			"source_event_id", ev.SourceEventID,
			"error", err)
	}
	if dup {
		c.logger.Debug("Dropping duplicate webhook event",
			"source_event_id", ev.SourceEventID)
		return 0, 0
	}

	routes, err := c.resolver.ResolveAll(ctx, ev.SourceType, ev.SourceID)
	if err != nil {
		// Counting this as failed makes the handler answer 500, and Meta
		// retries the envelope once the store is reachable again.
		c.logger.Error("Route resolution failed",
			"source_type", ev.SourceType,
			"source_id", ev.SourceID,
			"error", err)
		return 0, 1
	}
	if len(routes) == 0 {
		c.logger.Debug("No routes for webhook event",
			"source_type", ev.SourceType,
			"source_id", ev.SourceID)
		return 0, 0
	}

	seen := make(map[string]bool)
	for _, rt := range routes {
		if !seen[rt.WorkspaceID] {
			seen[rt.WorkspaceID] = true
			c.sink.Log(ctx, rt.WorkspaceID, logsink.LevelInfo, logsink.CategoryWebhook,
				"webhook.received",
				fmt.Sprintf("Received %s event for %s", ev.EventType, ev.SourceID),
				map[string]any{
					"source_type":     ev.SourceType,
					"source_id":       ev.SourceID,
					"source_event_id": ev.SourceEventID,
					"routes_matched":  len(routes),
				})
		}
	}

	for _, rt := range routes {
		if !rt.FilterRules.Accepts(ev.EventType) {
			c.logger.Debug("Route filter suppressed event",
				"route_id", rt.ID,
				"event_type", ev.EventType)
			continue
		}
		if c.createEvent(ctx, ev, rt, entryID, leadCache) {
			created++
		} else {
			failed++
		}
	}

	// Mark the event id only once every route's event is durably stored.
	// A partial failure leaves the id unmarked so Meta's retry gets another
	// full pass over the envelope.
	if failed == 0 {
		if err := c.deduper.Mark(ctx, ev.SourceEventID); err != nil {
			c.logger.Warn("Dedup mark failed",
				"source_event_id", ev.SourceEventID,
				"error", err)
		}
	}
	return created, failed
}

// createEvent builds one delivery event for a matched route: enrich, map,
// persist, nudge. Returns false when the event could not be stored.
func (c *Component) createEvent(ctx context.Context, ev *InboundEvent, rt *store.Route, entryID string, leadCache map[string]payload.Document) bool {
	doc := ev.Payload
	raw := ev.Raw

	if ev.SourceType == SourceForms {
		if lead := c.enrichLead(ctx, ev, rt.WorkspaceID, leadCache); lead != nil {
			merged := payload.DeepCopy(doc).(payload.Document)
			merged["lead"] = lead
			doc = merged
			if data, err := json.Marshal(merged); err == nil {
				raw = data
			}
		}
	}

	var transformed json.RawMessage
	if rt.MappingID != "" {
		transformed = c.applyMapping(ctx, rt, doc)
	}

	now := time.Now()
	event := &store.DeliveryEvent{
		WorkspaceID:        rt.WorkspaceID,
		RouteID:            rt.ID,
		DestinationID:      rt.DestinationID,
		SourceType:         ev.SourceType,
		SourceEventID:      ev.SourceEventID,
		Payload:            raw,
		TransformedPayload: transformed,
		NextRetryAt:        &now,
		Metadata: map[string]any{
			"entry_id":   entryID,
			"event_type": ev.EventType,
			"source_id":  ev.SourceID,
		},
	}
	id, err := c.store.CreateEvent(ctx, event)
	if err != nil {
		c.logger.Error("Failed to create delivery event",
			"route_id", rt.ID,
			"error", err)
		c.sink.Log(ctx, rt.WorkspaceID, logsink.LevelError, logsink.CategoryWebhook,
			"webhook.enqueue_failed",
			fmt.Sprintf("Failed to enqueue event for route %s: %v", rt.ID, err),
			map[string]any{"route_id": rt.ID})
		return false
	}
	c.eventsCreated.Add(1)

	if err := c.publishNudge(ctx, id); err != nil {
		// The delivery sweep picks the event up within a poll interval.
		c.logger.Warn("Failed to publish dispatch nudge",
			"event_id", id,
			"error", err)
	}

	c.sink.Log(ctx, rt.WorkspaceID, logsink.LevelInfo, logsink.CategoryWebhook,
		"webhook.event_created",
		fmt.Sprintf("Created delivery event for destination %s", rt.DestinationID),
		map[string]any{
			"event_id":       id,
			"route_id":       rt.ID,
			"destination_id": rt.DestinationID,
			"event_type":     ev.EventType,
			"mapped":         transformed != nil,
		})
	return true
}

// enrichLead fetches the full lead for leadgen events. Failure is non-fatal:
// the raw change value still gets forwarded.
func (c *Component) enrichLead(ctx context.Context, ev *InboundEvent, workspaceID string, cache map[string]payload.Document) payload.Document {
	if ev.SourceEventID == "" {
		return nil
	}
	if lead, ok := cache[workspaceID]; ok {
		return lead
	}

	integration, err := c.store.GetIntegration(ctx, workspaceID)
	if err != nil {
		c.logger.Debug("No integration for lead enrichment",
			"workspace_id", workspaceID)
		cache[workspaceID] = nil
		return nil
	}

	lead, err := c.enricher.FetchLead(ctx, ev.SourceEventID, integration.PageTokenFor(ev.SourceID))
	if err != nil {
		c.logger.Warn("Lead enrichment failed",
			"leadgen_id", ev.SourceEventID,
			"error", err)
		c.sink.Log(ctx, workspaceID, logsink.LevelWarn, logsink.CategoryWebhook,
			"webhook.enrichment_failed",
			fmt.Sprintf("Lead enrichment failed for %s: %v", ev.SourceEventID, err),
			map[string]any{"leadgen_id": ev.SourceEventID})
		cache[workspaceID] = nil
		return nil
	}
	cache[workspaceID] = lead
	return lead
}

// applyMapping transforms the payload for a route. A broken or missing
// mapping degrades to pass-through rather than blocking the event.
func (c *Component) applyMapping(ctx context.Context, rt *store.Route, doc payload.Document) json.RawMessage {
	m, err := c.store.GetMapping(ctx, rt.MappingID)
	if err != nil {
		c.logger.Warn("Mapping not found, passing payload through",
			"route_id", rt.ID,
			"mapping_id", rt.MappingID)
		return nil
	}

	result, err := mapping.Apply(m, doc)
	if err != nil {
		c.logger.Warn("Mapping failed, passing payload through",
			"mapping_id", rt.MappingID,
			"error", err)
		c.sink.Log(ctx, rt.WorkspaceID, logsink.LevelWarn, logsink.CategoryMapping,
			"mapping.apply_failed",
			fmt.Sprintf("Mapping %s failed: %v", rt.MappingID, err),
			map[string]any{"mapping_id": rt.MappingID, "route_id": rt.ID})
		return nil
	}
	for _, warning := range result.Warnings {
		c.logger.Debug("Mapping warning",
			"mapping_id", rt.MappingID,
			"warning", warning)
	}

	data, err := json.Marshal(result.Output)
	if err != nil {
		c.logger.Warn("Failed to serialize mapped payload",
			"mapping_id", rt.MappingID,
			"error", err)
		return nil
	}
	return data
}

func (c *Component) publishNudge(ctx context.Context, eventID string) error {
	if c.natsClient == nil {
		return nil
	}
	data, err := json.Marshal(delivery.DispatchNudge{EventID: eventID})
	if err != nil {
		return fmt.Errorf("marshal nudge: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", delivery.DispatchSubjectPrefix, eventID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Package webhook receives Meta webhooks: challenge verification, signature
// validation, envelope parsing, route resolution and event creation.
package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/metahub/payload"
)

// Meta envelope objects the receiver understands.
const (
	ObjectWhatsApp = "whatsapp_business_account"
	ObjectPage     = "page"
)

// Source types routes are keyed on.
const (
	SourceWhatsApp = "whatsapp"
	SourceForms    = "forms"
)

// Envelope is the outer Meta webhook body.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one object-level notification.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field-level notification inside an entry.
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// InboundEvent is one classified change, ready for route resolution.
type InboundEvent struct {
	SourceType string
	// SourceID is the channel-specific identifier routes match on:
	// phone_number_id for WhatsApp, form_id for lead forms.
	SourceID string
	// EventType feeds route filter_rules: "messages", "status_read",
	// "leadgen", ...
	EventType string
	// SourceEventID is the provider's own event id (wamid, leadgen_id),
	// used for observability and optional dedup.
	SourceEventID string
	// Payload is the change value as a decoded document.
	Payload payload.Document
	// Raw is the change value as received.
	Raw json.RawMessage
}

// Classify maps a change to an inbound event. Changes the receiver does not
// understand return (nil, nil) and are ignored; Meta still gets a 200.
func Classify(object string, ch Change) (*InboundEvent, error) {
	doc, err := payload.DecodeObject(ch.Value)
	if err != nil {
		return nil, fmt.Errorf("decode change value: %w", err)
	}

	switch object {
	case ObjectWhatsApp:
		phoneID, _ := payload.Resolve(doc, "metadata.phone_number_id")
		id, ok := phoneID.(string)
		if !ok || id == "" {
			return nil, nil
		}
		ev := &InboundEvent{
			SourceType: SourceWhatsApp,
			SourceID:   id,
			Payload:    doc,
			Raw:        ch.Value,
		}
		ev.EventType, ev.SourceEventID = classifyWhatsApp(doc, ch.Field)
		return ev, nil

	case ObjectPage:
		if ch.Field != "leadgen" {
			return nil, nil
		}
		formID, _ := payload.Resolve(doc, "form_id")
		id, ok := formID.(string)
		if !ok || id == "" {
			return nil, nil
		}
		leadID, _ := payload.Resolve(doc, "leadgen_id")
		leadgenID, _ := leadID.(string)
		return &InboundEvent{
			SourceType:    SourceForms,
			SourceID:      id,
			EventType:     "leadgen",
			SourceEventID: leadgenID,
			Payload:       doc,
			Raw:           ch.Value,
		}, nil
	}
	return nil, nil
}

// classifyWhatsApp derives the filterable event type and the provider event
// id from a WhatsApp change value. Message notifications carry a messages
// array, status notifications a statuses array; anything else falls back to
// the change field name.
func classifyWhatsApp(doc payload.Document, field string) (eventType, sourceEventID string) {
	if msgID, ok := payload.Resolve(doc, "messages[0].id"); ok {
		id, _ := msgID.(string)
		return "messages", id
	}
	if status, ok := payload.Resolve(doc, "statuses[0].status"); ok {
		name, _ := status.(string)
		id, _ := resolveString(doc, "statuses[0].id")
		if name != "" {
			return "status_" + name, id
		}
		return field, id
	}
	return field, ""
}

func resolveString(doc payload.Document, path string) (string, bool) {
	v, ok := payload.Resolve(doc, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

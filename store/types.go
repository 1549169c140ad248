// Package store provides durable entity storage for metahub using NATS KV.
// Every tenant-owned entity carries its workspace id; conditional updates on
// the KV revision provide the optimistic concurrency the delivery pipeline
// relies on.
package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Bucket names for each entity type.
const (
	BucketDestinations = "METAHUB_DESTINATIONS"
	BucketRoutes       = "METAHUB_ROUTES"
	BucketMappings     = "METAHUB_MAPPINGS"
	BucketEvents       = "METAHUB_EVENTS"
	BucketAttempts     = "METAHUB_ATTEMPTS"
	BucketIntegrations = "METAHUB_INTEGRATIONS"
	BucketAlertRules   = "METAHUB_ALERT_RULES"
	BucketAlertHistory = "METAHUB_ALERT_HISTORY"
	BucketMemberships  = "METAHUB_MEMBERSHIPS"
)

// AuthType selects how the destination client authenticates outbound calls.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthHMAC   AuthType = "hmac"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// Destination is a customer-controlled HTTP endpoint.
type Destination struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	AuthType    AuthType          `json:"auth_type"`
	AuthConfig  map[string]string `json:"auth_config,omitempty"`
	TimeoutMs   int               `json:"timeout_ms"`
	IsActive    bool              `json:"is_active"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Validate checks destination invariants before storage.
func (d *Destination) Validate() error {
	if d.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	u, err := url.Parse(d.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid destination url %q", d.URL)
	}
	switch d.Method {
	case "POST", "PUT", "PATCH":
	default:
		return fmt.Errorf("method must be POST, PUT or PATCH, got %q", d.Method)
	}
	switch d.AuthType {
	case AuthNone, AuthHMAC, AuthBearer, AuthBasic, AuthAPIKey:
	default:
		return fmt.Errorf("unknown auth_type %q", d.AuthType)
	}
	if d.TimeoutMs < 1000 || d.TimeoutMs > 30000 {
		return fmt.Errorf("timeout_ms must be within [1000, 30000], got %d", d.TimeoutMs)
	}
	return nil
}

// FilterRules restricts which inbound events a route accepts. A nil rules
// struct (and equally an empty event_types list) accepts every event.
type FilterRules struct {
	EventTypes []string `json:"event_types,omitempty"`
}

// Accepts reports whether an inbound event type passes the filter.
func (f *FilterRules) Accepts(eventType string) bool {
	if f == nil || len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Route binds an inbound source kind (and optional identifier) to exactly
// one destination.
type Route struct {
	ID            string       `json:"id"`
	WorkspaceID   string       `json:"workspace_id"`
	SourceType    string       `json:"source_type"`
	SourceID      string       `json:"source_id,omitempty"` // empty = catch-all
	DestinationID string       `json:"destination_id"`
	MappingID     string       `json:"mapping_id,omitempty"`
	FilterRules   *FilterRules `json:"filter_rules,omitempty"`
	Priority      int          `json:"priority"`
	IsActive      bool         `json:"is_active"`
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Validate checks route invariants before storage.
func (r *Route) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.SourceType == "" {
		return fmt.Errorf("source_type is required")
	}
	if r.DestinationID == "" {
		return fmt.Errorf("destination_id is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return fmt.Errorf("priority must be within [0, 100], got %d", r.Priority)
	}
	return nil
}

// EventStatus is the delivery event lifecycle state.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusDelivered  EventStatus = "delivered"
	StatusFailed     EventStatus = "failed"
	StatusDLQ        EventStatus = "dlq"
	StatusCancelled  EventStatus = "cancelled"
)

// Terminal reports whether no further automatic transitions happen from the
// status. DLQ is terminal until a manual resend.
func (s EventStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusDLQ || s == StatusCancelled
}

// DefaultMaxAttempts is applied to new delivery events.
const DefaultMaxAttempts = 5

// DeliveryEvent is one unit of forwardable payload and its lifecycle.
type DeliveryEvent struct {
	ID                 string          `json:"id"`
	WorkspaceID        string          `json:"workspace_id"`
	RouteID            string          `json:"route_id"`
	DestinationID      string          `json:"destination_id"`
	SourceType         string          `json:"source_type"`
	SourceEventID      string          `json:"source_event_id,omitempty"`
	Payload            json.RawMessage `json:"payload"`
	TransformedPayload json.RawMessage `json:"transformed_payload,omitempty"`
	Status             EventStatus     `json:"status"`
	AttemptsCount      int             `json:"attempts_count"`
	MaxAttempts        int             `json:"max_attempts"`
	NextRetryAt        *time.Time      `json:"next_retry_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	FailedAt           *time.Time      `json:"failed_at,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Body returns the payload that should be delivered: the transformed payload
// when a mapping produced one, otherwise the original.
func (e *DeliveryEvent) Body() json.RawMessage {
	if len(e.TransformedPayload) > 0 {
		return e.TransformedPayload
	}
	return e.Payload
}

// DeliveryAttempt is an immutable record of one HTTP call for an event.
type DeliveryAttempt struct {
	EventID       string    `json:"event_id"`
	WorkspaceID   string    `json:"workspace_id"`
	DestinationID string    `json:"destination_id"`
	AttemptNumber int       `json:"attempt_number"`
	RequestURL    string    `json:"request_url"`
	RequestMethod string    `json:"request_method"`
	StatusCode    *int      `json:"status_code,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	AttemptedAt   time.Time `json:"attempted_at"`
}

// Success reports whether the attempt got a 2xx response.
func (a *DeliveryAttempt) Success() bool {
	return a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
}

// Integration holds the stored result of the Meta OAuth dance for a tenant.
type Integration struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	AccessToken string         `json:"access_token"`
	Scopes      []string       `json:"scopes,omitempty"`
	LastSyncAt  *time.Time     `json:"last_sync_at,omitempty"`
	Resources   []MetaResource `json:"resources,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MetaResource kinds enumerated from the provider.
const (
	ResourceWhatsAppNumber = "whatsapp_number"
	ResourceAdAccount      = "ad_account"
	ResourceLeadForm       = "lead_form"
)

// MetaResource is one provider-side object a route may target.
type MetaResource struct {
	Kind       string `json:"kind"`
	ResourceID string `json:"resource_id"`
	Name       string `json:"name,omitempty"`
	// PageToken is a page-scoped access token, preferred for lead
	// enrichment when present.
	PageToken string `json:"page_token,omitempty"`
}

// AlertStatus is the alert history lifecycle state.
type AlertStatus string

const (
	AlertTriggered    AlertStatus = "triggered"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert condition types.
const (
	CondErrorRate        = "error_rate"
	CondDLQThreshold     = "dlq_threshold"
	CondLatencyThreshold = "latency_threshold"
	CondNoEvents         = "no_events"
	CondConsecutiveFails = "consecutive_fails"
	CondCustom           = "custom"
)

// AlertRule is a user-defined condition with cooldown and channels.
type AlertRule struct {
	ID              string             `json:"id"`
	WorkspaceID     string             `json:"workspace_id"`
	Name            string             `json:"name"`
	ConditionType   string             `json:"condition_type"`
	ConditionConfig map[string]float64 `json:"condition_config,omitempty"`
	NotifyChannels  []string           `json:"notify_channels,omitempty"`
	NotifyConfig    map[string]string  `json:"notify_config,omitempty"`
	CooldownMinutes int                `json:"cooldown_minutes"`
	LastTriggeredAt *time.Time         `json:"last_triggered_at,omitempty"`
	TriggerCount    int                `json:"trigger_count"`
	IsActive        bool               `json:"is_active"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Validate checks rule invariants before storage.
func (r *AlertRule) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	switch r.ConditionType {
	case CondErrorRate, CondDLQThreshold, CondLatencyThreshold, CondNoEvents, CondConsecutiveFails, CondCustom:
	default:
		return fmt.Errorf("unknown condition_type %q", r.ConditionType)
	}
	if r.CooldownMinutes < 1 {
		return fmt.Errorf("cooldown_minutes must be at least 1")
	}
	for _, ch := range r.NotifyChannels {
		switch ch {
		case "in_app", "email", "webhook":
		default:
			return fmt.Errorf("unknown notify channel %q", ch)
		}
	}
	return nil
}

// AlertHistory records one firing of a rule.
type AlertHistory struct {
	ID                string             `json:"id"`
	WorkspaceID       string             `json:"workspace_id"`
	RuleID            string             `json:"rule_id"`
	RuleName          string             `json:"rule_name,omitempty"`
	Status            AlertStatus        `json:"status"`
	ConditionSnapshot map[string]float64 `json:"condition_snapshot,omitempty"`
	NotifiedVia       []string           `json:"notified_via"`
	AcknowledgedBy    string             `json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedAt        *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// WindowStats aggregates delivery events over a trailing window.
type WindowStats struct {
	Total        int     `json:"total"`
	Delivered    int     `json:"delivered"`
	Failed       int     `json:"failed"`
	DLQ          int     `json:"dlq"`
	Pending      int     `json:"pending"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

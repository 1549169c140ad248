// Package logsink provides the append-only, categorised event log. Entries
// are published to a JetStream stream and read back through ephemeral
// ordered consumers; the sink exposes no deletion API (retention is a
// stream configuration concern).
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream backing the sink.
const StreamName = "METAHUB_LOGS"

// SubjectPrefix is the subject space of the stream ("log.>").
const SubjectPrefix = "log"

// Level is the entry severity.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Category tags the subsystem an entry belongs to.
type Category string

const (
	CategoryWebhook  Category = "webhook"
	CategoryDelivery Category = "delivery"
	CategoryOAuth    Category = "oauth"
	CategoryWhatsApp Category = "whatsapp"
	CategoryMapping  Category = "mapping"
	CategorySystem   Category = "system"
	CategoryBilling  Category = "billing"
	CategoryAuth     Category = "auth"
	CategoryAlert    Category = "alert"
)

// Entry is one structured log record.
type Entry struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Level       Level          `json:"level"`
	Category    Category       `json:"category"`
	Action      string         `json:"action"`
	Message     string         `json:"message"`
	Resource    string         `json:"resource,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Query filters a read of the sink. Zero values mean "no filter".
type Query struct {
	WorkspaceID string
	Level       Level
	Category    Category
	// Contains is a case-insensitive substring match on the message.
	Contains string
	Limit    int
}

// DefaultQueryLimit bounds unqualified reads.
const DefaultQueryLimit = 100

// Sink writes and reads the event log.
type Sink struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// New creates a sink over an existing JetStream context. The stream itself
// is provisioned at startup alongside the KV buckets.
func New(js jetstream.JetStream, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{js: js, logger: logger}
}

// subjectFor places an entry in the per-tenant, per-category subject space.
func subjectFor(workspaceID string, category Category) string {
	ws := strings.ReplaceAll(workspaceID, ".", "_")
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, ws, category)
}

// Write appends one entry. The id and timestamp are filled here.
func (s *Sink) Write(ctx context.Context, e *Entry) error {
	if e.WorkspaceID == "" {
		return fmt.Errorf("log entry requires workspace_id")
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	if _, err := s.js.Publish(ctx, subjectFor(e.WorkspaceID, e.Category), data); err != nil {
		return fmt.Errorf("publish log entry: %w", err)
	}
	return nil
}

// Log is the fire-and-observe write used from hot paths: failures are
// reported to the process logger instead of the caller.
func (s *Sink) Log(ctx context.Context, workspaceID string, level Level, category Category, action, message string, metadata map[string]any) {
	if s == nil {
		return
	}
	entry := &Entry{
		WorkspaceID: workspaceID,
		Level:       level,
		Category:    category,
		Action:      action,
		Message:     message,
		Metadata:    metadata,
	}
	if err := s.Write(ctx, entry); err != nil {
		s.logger.Warn("Failed to write log entry",
			"workspace_id", workspaceID,
			"action", action,
			"error", err)
	}
}

// Query reads entries for a workspace, newest last, applying the filters in
// memory. Reads use an ephemeral ordered consumer so they never disturb the
// durable consumers on the stream.
func (s *Sink) Query(ctx context.Context, q Query) ([]*Entry, error) {
	if q.WorkspaceID == "" {
		return nil, fmt.Errorf("query requires workspace_id")
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = DefaultQueryLimit
	}

	filter := fmt.Sprintf("%s.%s.>", SubjectPrefix, strings.ReplaceAll(q.WorkspaceID, ".", "_"))
	if q.Category != "" {
		filter = subjectFor(q.WorkspaceID, q.Category)
	}

	cons, err := s.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
	})
	if err != nil {
		return nil, fmt.Errorf("create log consumer: %w", err)
	}

	contains := strings.ToLower(q.Contains)
	var out []*Entry
	for {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		batch, err := cons.Fetch(64, jetstream.FetchMaxWait(500*time.Millisecond))
		if err != nil {
			break
		}
		received := 0
		for msg := range batch.Messages() {
			received++
			var e Entry
			if err := json.Unmarshal(msg.Data(), &e); err != nil {
				continue
			}
			if q.Level != "" && e.Level != q.Level {
				continue
			}
			if contains != "" && !strings.Contains(strings.ToLower(e.Message), contains) {
				continue
			}
			out = append(out, &e)
		}
		if received == 0 {
			break
		}
	}

	// Keep only the newest entries when the filter matched more than limit.
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupTTL is how long a provider event id suppresses re-delivery. Meta
// retries failed webhooks for about a day.
const dedupTTL = 24 * time.Hour

// Deduper suppresses duplicate provider events. Meta delivers at-least-once;
// when a Redis URL is configured the receiver drops envelopes whose provider
// event id (wamid, leadgen_id) was already seen. Without Redis every event
// passes through, which matches at-least-once forwarding.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeduper connects to Redis. An empty URL disables dedup.
func NewDeduper(redisURL string) (*Deduper, error) {
	if redisURL == "" {
		return &Deduper{}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Deduper{client: redis.NewClient(opts), ttl: dedupTTL}, nil
}

// newDeduperWithClient is the test seam for miniredis.
func newDeduperWithClient(client *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

// Seen reports whether the event id was already marked. Errors fail open:
// a Redis outage must not drop webhooks.
func (d *Deduper) Seen(ctx context.Context, sourceEventID string) (bool, error) {
	if d == nil || d.client == nil || sourceEventID == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, dedupKey(sourceEventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

// Mark records the event id so later deliveries of it are dropped. Callers
// mark only after every event for the envelope was durably enqueued; marking
// earlier would turn Meta's retry of a failed enqueue into a silent drop.
func (d *Deduper) Mark(ctx context.Context, sourceEventID string) error {
	if d == nil || d.client == nil || sourceEventID == "" {
		return nil
	}
	if err := d.client.Set(ctx, dedupKey(sourceEventID), 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

func dedupKey(sourceEventID string) string {
	return "metahub:webhook:" + sourceEventID
}

// Close releases the Redis connection.
func (d *Deduper) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

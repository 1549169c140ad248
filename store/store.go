package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Store provides entity storage operations backed by NATS KV.
type Store struct {
	destinations jetstream.KeyValue
	routes       jetstream.KeyValue
	mappings     jetstream.KeyValue
	events       jetstream.KeyValue
	attempts     jetstream.KeyValue
	integrations jetstream.KeyValue
	alertRules   jetstream.KeyValue
	alertHistory jetstream.KeyValue
	memberships  jetstream.KeyValue
}

// NewStore creates a new Store with the given JetStream context, creating
// the KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	s := &Store{}
	for _, b := range []struct {
		name   string
		target *jetstream.KeyValue
	}{
		{BucketDestinations, &s.destinations},
		{BucketRoutes, &s.routes},
		{BucketMappings, &s.mappings},
		{BucketEvents, &s.events},
		{BucketAttempts, &s.attempts},
		{BucketIntegrations, &s.integrations},
		{BucketAlertRules, &s.alertRules},
		{BucketAlertHistory, &s.alertHistory},
		{BucketMemberships, &s.memberships},
	} {
		kv, err := getOrCreateBucket(ctx, js, b.name)
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", strings.ToLower(b.name), err)
		}
		*b.target = kv
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Metahub %s storage", strings.ToLower(name)),
	})
}

// getJSON loads and unmarshals one entry, mapping missing keys to ErrNotFound.
func getJSON(ctx context.Context, kv jetstream.KeyValue, key string, out any) error {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// putJSON marshals and stores one entry.
func putJSON(ctx context.Context, kv jetstream.KeyValue, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// createJSON marshals and stores one entry, failing if the key exists.
func createJSON(ctx context.Context, kv jetstream.KeyValue, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := kv.Create(ctx, key, data); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// listKeys returns all keys of a bucket; an empty bucket is not an error.
func listKeys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// forEachJSON loads every entry of a bucket and calls fn with the decoded
// value. Entries that fail to load or decode are skipped, matching the
// scan-and-filter read pattern used throughout.
func forEachJSON[T any](ctx context.Context, kv jetstream.KeyValue, fn func(*T) bool) error {
	keys, err := listKeys(ctx, kv)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry, err := kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(entry.Value(), &v); err != nil {
			continue
		}
		if !fn(&v) {
			return nil
		}
	}
	return nil
}

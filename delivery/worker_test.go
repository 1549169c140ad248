package delivery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 16 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},    // 64m capped
		{100, time.Hour},  // far past the cap
		{0, time.Minute},  // defensive lower bound
		{-3, time.Minute}, // defensive lower bound
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffDelay(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestBackoffDelayMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for n := 1; n <= 20; n++ {
		d := backoffDelay(n)
		assert.GreaterOrEqual(t, d, prev, "attempts=%d", n)
		assert.LessOrEqual(t, d, time.Hour)
		prev = d
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "DELIVERY", cfg.StreamName)
	assert.Equal(t, "delivery.dispatch.>", cfg.DispatchSubject)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 32, cfg.MaxConcurrent)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty stream":       func(c *Config) { c.StreamName = "" },
		"empty consumer":     func(c *Config) { c.ConsumerName = "" },
		"empty subject":      func(c *Config) { c.DispatchSubject = "" },
		"zero poll interval": func(c *Config) { c.PollInterval = 0 },
		"zero batch":         func(c *Config) { c.BatchSize = 0 },
		"zero concurrency":   func(c *Config) { c.MaxConcurrent = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSamplePayloadIsValidJSON(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal(samplePayload, &doc))
	assert.Equal(t, true, doc["test"])
}

func TestDispatchNudgeRoundTrip(t *testing.T) {
	data, err := json.Marshal(DispatchNudge{EventID: "ev-1"})
	require.NoError(t, err)

	var nudge DispatchNudge
	require.NoError(t, json.Unmarshal(data, &nudge))
	assert.Equal(t, "ev-1", nudge.EventID)
}

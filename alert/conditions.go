// Package alert evaluates user-defined alert rules against the recent
// delivery window and fans firings out to notification channels.
package alert

import (
	"time"

	"github.com/c360studio/metahub/store"
)

// Measurement is the outcome of evaluating one rule: whether it fired and
// the numeric values that were measured, kept as the condition snapshot.
type Measurement struct {
	Fired  bool
	Values map[string]float64
}

// configValue reads a numeric parameter with a default.
func configValue(cfg map[string]float64, key string, def float64) float64 {
	if v, ok := cfg[key]; ok {
		return v
	}
	return def
}

// consecutiveFailsScanLimit bounds the attempt history scanned per rule.
const consecutiveFailsScanLimit = 500

// windowMinutes reads the rule's window with a one-hour default.
func windowMinutes(cfg map[string]float64) time.Duration {
	return time.Duration(configValue(cfg, "window_minutes", 60)) * time.Minute
}

// measureErrorRate fires when the fraction of failed or dead-lettered events
// in the window crosses threshold_pct. Requires at least one event so an
// idle tenant never alarms.
func measureErrorRate(stats *store.WindowStats, cfg map[string]float64) Measurement {
	threshold := configValue(cfg, "threshold_pct", 50)
	var rate float64
	if stats.Total > 0 {
		rate = float64(stats.Failed+stats.DLQ) / float64(stats.Total) * 100
	}
	return Measurement{
		Fired: stats.Total >= 1 && rate >= threshold,
		Values: map[string]float64{
			"error_rate_pct": rate,
			"threshold_pct":  threshold,
			"total_events":   float64(stats.Total),
		},
	}
}

// measureDLQThreshold fires when the current DLQ population reaches the
// configured count.
func measureDLQThreshold(dlqCount int, cfg map[string]float64) Measurement {
	threshold := configValue(cfg, "threshold", 1)
	return Measurement{
		Fired: float64(dlqCount) >= threshold,
		Values: map[string]float64{
			"dlq_count": float64(dlqCount),
			"threshold": threshold,
		},
	}
}

// measureLatencyThreshold fires when average delivery latency over the
// window crosses threshold_ms. Requires at least one delivered event.
func measureLatencyThreshold(stats *store.WindowStats, cfg map[string]float64) Measurement {
	threshold := configValue(cfg, "threshold_ms", 5000)
	return Measurement{
		Fired: stats.Delivered > 0 && stats.AvgLatencyMs >= threshold,
		Values: map[string]float64{
			"avg_latency_ms": stats.AvgLatencyMs,
			"threshold_ms":   threshold,
			"delivered":      float64(stats.Delivered),
		},
	}
}

// measureNoEvents fires when nothing arrived in the configured window.
func measureNoEvents(created int, cfg map[string]float64) Measurement {
	minutes := configValue(cfg, "minutes", 60)
	return Measurement{
		Fired: created == 0,
		Values: map[string]float64{
			"events_created": float64(created),
			"minutes":        minutes,
		},
	}
}

// measureConsecutiveFails fires when some destination's newest threshold
// attempts are all failures. Streaks are tracked per destination over the
// newest-first attempt history: a success at one destination neither resets
// another destination's streak nor masks it, and failures spread across
// destinations do not add up to a single streak.
func measureConsecutiveFails(attempts []*store.DeliveryAttempt, cfg map[string]float64) Measurement {
	threshold := int(configValue(cfg, "threshold", 3))

	streaks := make(map[string]int)
	broken := make(map[string]bool)
	maxStreak := 0
	for _, a := range attempts {
		dest := a.DestinationID
		if broken[dest] {
			continue
		}
		if a.Success() {
			broken[dest] = true
			continue
		}
		streaks[dest]++
		if streaks[dest] > maxStreak {
			maxStreak = streaks[dest]
		}
	}

	return Measurement{
		Fired: threshold > 0 && maxStreak >= threshold,
		Values: map[string]float64{
			"consecutive_fails": float64(maxStreak),
			"threshold":         float64(threshold),
		},
	}
}

// inCooldown reports whether the rule fired recently enough to be skipped.
func inCooldown(rule *store.AlertRule, now time.Time) bool {
	if rule.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*rule.LastTriggeredAt) < time.Duration(rule.CooldownMinutes)*time.Minute
}

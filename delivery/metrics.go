package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes delivery pipeline counters. Outcomes are the transition
// results of the event state machine, not HTTP statuses.
type Metrics struct {
	attempts *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates and registers delivery metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metahub",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts by result (success or failure).",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metahub",
			Subsystem: "delivery",
			Name:      "events_total",
			Help:      "Event transitions by outcome (delivered, failed, dlq, cancelled).",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "metahub",
			Subsystem: "delivery",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of destination calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.outcomes, m.duration)
	}
	return m
}

func (m *Metrics) observeAttempt(res *AttemptResult) {
	if m == nil {
		return
	}
	result := "failure"
	if res.Success() {
		result = "success"
	}
	m.attempts.WithLabelValues(result).Inc()
	m.duration.Observe(float64(res.DurationMs) / 1000)
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

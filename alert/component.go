package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/metahub/auth"
	"github.com/c360studio/metahub/logsink"
	"github.com/c360studio/metahub/store"
)

// Component implements the alert evaluator.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store    *store.Store
	sink     *logsink.Sink
	notifier *Notifier
	auth     *auth.Authorizer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	evaluations    atomic.Int64
	firings        atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new alert evaluator.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.EvalInterval == 0 {
		config.EvalInterval = defaults.EvalInterval
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Component{
		name:       "alerts",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}

	if deps.NATSClient != nil {
		js, err := deps.NATSClient.JetStream()
		if err != nil {
			return nil, fmt.Errorf("get jetstream: %w", err)
		}
		st, err := store.NewStore(context.Background(), js)
		if err != nil {
			return nil, fmt.Errorf("create store: %w", err)
		}
		c.store = st
		c.sink = logsink.New(js, c.logger)
		c.notifier = NewNotifier(c.sink, config.SendGridAPIKey)
		if key := config.SessionSigningKey; key != "" {
			c.auth = auth.NewAuthorizer([]byte(key), st)
		}
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized alerts",
		"eval_interval", c.config.EvalInterval,
		"email_channel", c.config.SendGridAPIKey != "")
	return nil
}

// Start begins the evaluation loop.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.evalLoop(subCtx)

	c.logger.Info("alerts started",
		"eval_interval", c.config.EvalInterval)
	return nil
}

func (c *Component) evalLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.EvalInterval)
	defer ticker.Stop()

	c.evaluateAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evaluateAll(ctx)
		}
	}
}

// evaluateAll runs every active rule once. A failing rule is logged and
// skipped; it never blocks the others.
func (c *Component) evaluateAll(ctx context.Context) {
	c.updateLastActivity()

	rules, err := c.store.ListActiveAlertRules(ctx)
	if err != nil {
		c.logger.Error("Failed to list alert rules", "error", err)
		return
	}

	now := time.Now()
	for _, rule := range rules {
		if ctx.Err() != nil {
			return
		}
		if inCooldown(rule, now) {
			continue
		}
		c.evaluations.Add(1)

		m, err := c.measure(ctx, rule)
		if err != nil {
			c.logger.Warn("Rule evaluation failed",
				"rule_id", rule.ID,
				"condition_type", rule.ConditionType,
				"error", err)
			c.sink.Log(ctx, rule.WorkspaceID, logsink.LevelError, logsink.CategoryAlert,
				"alert.evaluation_failed",
				fmt.Sprintf("Evaluation of rule %q failed: %v", rule.Name, err),
				map[string]any{"rule_id": rule.ID})
			continue
		}
		if !m.Fired {
			continue
		}
		if err := c.fire(ctx, rule, m); err != nil {
			c.logger.Error("Failed to record alert firing",
				"rule_id", rule.ID,
				"error", err)
		}
	}
}

// measure evaluates one rule's condition against the store.
func (c *Component) measure(ctx context.Context, rule *store.AlertRule) (Measurement, error) {
	cfg := rule.ConditionConfig
	switch rule.ConditionType {
	case store.CondErrorRate:
		stats, err := c.store.StatsByWindow(ctx, rule.WorkspaceID, windowMinutes(cfg))
		if err != nil {
			return Measurement{}, err
		}
		return measureErrorRate(stats, cfg), nil

	case store.CondDLQThreshold:
		count, err := c.store.CountByStatus(ctx, rule.WorkspaceID, store.StatusDLQ)
		if err != nil {
			return Measurement{}, err
		}
		return measureDLQThreshold(count, cfg), nil

	case store.CondLatencyThreshold:
		stats, err := c.store.StatsByWindow(ctx, rule.WorkspaceID, windowMinutes(cfg))
		if err != nil {
			return Measurement{}, err
		}
		return measureLatencyThreshold(stats, cfg), nil

	case store.CondNoEvents:
		minutes := time.Duration(configValue(cfg, "minutes", 60)) * time.Minute
		count, err := c.store.CountCreatedSince(ctx, rule.WorkspaceID, time.Now().Add(-minutes))
		if err != nil {
			return Measurement{}, err
		}
		return measureNoEvents(count, cfg), nil

	case store.CondConsecutiveFails:
		// Streaks are per destination, so the scan needs more history
		// than the threshold itself: interleaved traffic to other
		// destinations would otherwise push a streak out of view.
		attempts, err := c.store.RecentAttempts(ctx, rule.WorkspaceID, consecutiveFailsScanLimit)
		if err != nil {
			return Measurement{}, err
		}
		return measureConsecutiveFails(attempts, cfg), nil

	case store.CondCustom:
		// Reserved; never fires.
		return Measurement{}, nil
	}
	return Measurement{}, fmt.Errorf("unknown condition type %q", rule.ConditionType)
}

// fire records the alert history, notifies the channels and bumps the
// rule's cooldown bookkeeping.
func (c *Component) fire(ctx context.Context, rule *store.AlertRule, m Measurement) error {
	c.firings.Add(1)

	history := &store.AlertHistory{
		WorkspaceID:       rule.WorkspaceID,
		RuleID:            rule.ID,
		RuleName:          rule.Name,
		ConditionSnapshot: m.Values,
	}
	if _, err := c.store.CreateAlertHistory(ctx, history); err != nil {
		return fmt.Errorf("create alert history: %w", err)
	}

	history.NotifiedVia = c.notifier.Notify(ctx, rule, history)
	if err := c.store.UpdateAlertHistory(ctx, history); err != nil {
		c.logger.Warn("Failed to record notification channels",
			"alert_id", history.ID,
			"error", err)
	}

	now := time.Now()
	if err := c.store.MarkRuleTriggered(ctx, rule.ID, now); err != nil {
		return fmt.Errorf("mark rule triggered: %w", err)
	}

	c.logger.Info("Alert fired",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"condition_type", rule.ConditionType,
		"notified_via", history.NotifiedVia)
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("alerts stopped",
		"evaluations", c.evaluations.Load(),
		"firings", c.firings.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "alerts",
		Type:        "processor",
		Description: "Evaluates alert rules against the recent delivery window",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return alertSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}

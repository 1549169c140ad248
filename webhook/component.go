package webhook

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
	"github.com/c360studio/metahub/routing"
	"github.com/c360studio/metahub/store"
)

// Component implements the webhook receiver.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store    *store.Store
	resolver *routing.Resolver
	sink     *logsink.Sink
	deduper  *Deduper
	enricher *Enricher
	auth     *auth.Authorizer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	envelopesReceived atomic.Int64
	eventsCreated     atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new webhook receiver.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	deduper, err := NewDeduper(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("create deduper: %w", err)
	}

	c := &Component{
		name:       "webhook",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		deduper:    deduper,
		enricher:   NewEnricher(),
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
		c.resolver = routing.NewResolver(st)
		c.sink = logsink.New(js, c.logger)
		if key := config.SessionSigningKey; key != "" {
			c.auth = auth.NewAuthorizer([]byte(key), st)
		}
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized webhook",
		"signature_validation", c.config.AppSecret != "",
		"dedup", c.config.RedisURL != "")
	return nil
}

// Start marks the component running. The receiver is HTTP-driven; it holds
// no background loops of its own.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()
	_, c.cancel = context.WithCancel(ctx)

	c.logger.Info("webhook started")
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
	if err := c.deduper.Close(); err != nil {
		c.logger.Warn("Failed to close deduper", "error", err)
	}

	c.running = false
	c.logger.Info("webhook stopped",
		"envelopes_received", c.envelopesReceived.Load(),
		"events_created", c.eventsCreated.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "webhook",
		Type:        "processor",
		Description: "Receives Meta webhooks and creates delivery events",
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
	return webhookSchema
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

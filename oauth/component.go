package oauth

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

// Component implements the Meta OAuth start/callback flow.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store *store.Store
	sink  *logsink.Sink
	graph *GraphClient
	auth  *auth.Authorizer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex

	// Metrics
	startsIssued   atomic.Int64
	connectsDone   atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new oauth component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if config.Ports == nil {
		config.Ports = DefaultConfig().Ports
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Component{
		name:       "oauth",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		graph:      NewGraphClient(config.AppID, config.AppSecret),
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
		if key := config.SessionSigningKey; key != "" {
			c.auth = auth.NewAuthorizer([]byte(key), st)
		}
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized oauth", "redirect_url", c.config.RedirectURL)
	return nil
}

// Start marks the component running. The flow is HTTP-driven.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("component already running")
	}
	c.running = true
	c.startTime = time.Now()
	c.logger.Info("oauth started")
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.logger.Info("oauth stopped",
		"starts_issued", c.startsIssued.Load(),
		"connects_done", c.connectsDone.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "oauth",
		Type:        "processor",
		Description: "Meta OAuth connect flow and resource enumeration",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port { return []component.Port{} }

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port { return []component.Port{} }

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return oauthSchema
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
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return component.FlowMetrics{LastActivity: c.lastActivity}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

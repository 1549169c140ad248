package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/metahub/auth"
)

// mappingSchema defines the configuration schema.
var mappingSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the transform component.
type Config struct {
	// SessionSigningKey verifies bearer sessions on the preview endpoint.
	SessionSigningKey string `json:"session_signing_key,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{Ports: &component.PortConfig{}}
}

// Validate validates the configuration.
func (c *Config) Validate() error { return nil }

// Component exposes the transform preview endpoint. The engine itself is
// pure; this component is just its HTTP surface for the mapping editor.
type Component struct {
	name   string
	config Config
	logger *slog.Logger
	auth   *auth.Authorizer

	running   bool
	startTime time.Time
	mu        sync.RWMutex

	previewsServed atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new transform component.
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
		name:   "transform",
		config: config,
		logger: deps.GetLogger(),
	}
	if key := config.SessionSigningKey; key != "" {
		c.auth = auth.NewAuthorizer([]byte(key), nil)
	}
	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized transform")
	return nil
}

// Start marks the component running.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("component already running")
	}
	c.running = true
	c.startTime = time.Now()
	c.logger.Info("transform started")
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
	c.logger.Info("transform stopped",
		"previews_served", c.previewsServed.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "transform",
		Type:        "processor",
		Description: "Transform preview endpoint for the mapping editor",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port { return []component.Port{} }

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port { return []component.Port{} }

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return mappingSchema
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

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/metahub/auth"
	"github.com/c360studio/metahub/logsink"
	"github.com/c360studio/metahub/store"
)

// DispatchSubjectPrefix is the subject space for new-event nudges. The
// webhook receiver publishes one nudge per created event so first attempts
// start without waiting for the retry sweep.
const DispatchSubjectPrefix = "delivery.dispatch"

// DispatchNudge is the payload of a dispatch message.
type DispatchNudge struct {
	EventID string `json:"event_id"`
}

// Component implements the delivery worker processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store  *store.Store
	worker *Worker
	auth   *auth.Authorizer
	sem    chan struct{}

	consumer jetstream.Consumer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	nudgesHandled  atomic.Int64
	sweepsRun      atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new delivery worker.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.DispatchSubject == "" {
		config.DispatchSubject = defaults.DispatchSubject
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Component{
		name:       "delivery",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		sem:        make(chan struct{}, config.MaxConcurrent),
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
		sink := logsink.New(js, c.logger)
		c.worker = NewWorker(st, NewClient(), sink, c.logger, NewMetrics(prometheus.DefaultRegisterer))
		if key := config.SessionSigningKey; key != "" {
			c.auth = auth.NewAuthorizer([]byte(key), st)
		}
	}

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized delivery",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"poll_interval", c.config.PollInterval,
		"max_concurrent", c.config.MaxConcurrent)
	return nil
}

// Start begins consuming dispatch nudges and sweeping for due retries.
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

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.DispatchSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)
	go c.sweepLoop(subCtx)

	c.logger.Info("delivery started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"poll_interval", c.config.PollInterval)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop handles dispatch nudges so first attempts run promptly.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(c.config.BatchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleNudge(ctx, msg)
		}
	}
}

// handleNudge delivers the nudged event on a semaphore slot. Conflicts are
// expected (the sweep may have claimed the event first) and are acked.
func (c *Component) handleNudge(ctx context.Context, msg jetstream.Msg) {
	c.nudgesHandled.Add(1)
	c.updateLastActivity()

	var nudge DispatchNudge
	if err := json.Unmarshal(msg.Data(), &nudge); err != nil || nudge.EventID == "" {
		c.logger.Warn("Dropping malformed dispatch nudge", "error", err)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	go func() {
		defer func() { <-c.sem }()

		if _, err := c.worker.Deliver(ctx, nudge.EventID); err != nil && !isConflict(err) {
			c.logger.Warn("Nudged delivery failed",
				"event_id", nudge.EventID,
				"error", err)
		}
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
	}()
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound)
}

// sweepLoop periodically claims due retries. The sweep also picks up pending
// events whose nudge was lost.
func (c *Component) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Component) sweep(ctx context.Context) {
	c.sweepsRun.Add(1)
	c.updateLastActivity()

	result, err := c.worker.Process(ctx, c.config.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Delivery sweep failed", "error", err)
		}
		return
	}
	if result.Processed > 0 {
		c.logger.Info("Delivery sweep complete",
			"processed", result.Processed,
			"delivered", result.Delivered,
			"failed", result.Failed)
	}
}

// PublishNudge asks a running worker (this one or a peer) to attempt the
// event now instead of waiting for the next sweep.
func (c *Component) PublishNudge(ctx context.Context, eventID string) error {
	data, err := json.Marshal(DispatchNudge{EventID: eventID})
	if err != nil {
		return fmt.Errorf("marshal nudge: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", DispatchSubjectPrefix, eventID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
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
	c.logger.Info("delivery stopped",
		"nudges_handled", c.nudgesHandled.Load(),
		"sweeps_run", c.sweepsRun.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "delivery",
		Type:        "processor",
		Description: "Delivers events to customer destinations with retry and DLQ",
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
	return deliverySchema
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

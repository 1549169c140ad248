package delivery

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// deliverySchema defines the configuration schema.
var deliverySchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the delivery worker component.
type Config struct {
	// StreamName is the JetStream stream carrying dispatch nudges.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer for dispatch nudges.
	ConsumerName string `json:"consumer_name"`

	// DispatchSubject is the filter subject for dispatch nudges.
	DispatchSubject string `json:"dispatch_subject"`

	// PollInterval is how often the worker sweeps for due retries.
	PollInterval time.Duration `json:"poll_interval"`

	// BatchSize bounds how many due events one sweep claims.
	BatchSize int `json:"batch_size"`

	// MaxConcurrent bounds in-flight deliveries across nudges and sweeps.
	MaxConcurrent int `json:"max_concurrent"`

	// SessionSigningKey verifies bearer sessions on the HTTP endpoints.
	// When empty the endpoints reject all requests.
	SessionSigningKey string `json:"session_signing_key,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:      "DELIVERY",
		ConsumerName:    "delivery-worker",
		DispatchSubject: "delivery.dispatch.>",
		PollInterval:    30 * time.Second,
		BatchSize:       50,
		MaxConcurrent:   32,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "dispatch",
					Type:        "jetstream",
					Subject:     "delivery.dispatch.>",
					StreamName:  "DELIVERY",
					Description: "New-event nudges from the webhook receiver",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "event-log",
					Type:        "jetstream",
					Subject:     "log.>",
					StreamName:  "METAHUB_LOGS",
					Description: "Delivery outcome log entries",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.DispatchSubject == "" {
		return fmt.Errorf("dispatch_subject is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	return nil
}

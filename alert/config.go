package alert

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// alertSchema defines the configuration schema.
var alertSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the alert evaluator component.
type Config struct {
	// EvalInterval is how often rules are evaluated.
	EvalInterval time.Duration `json:"eval_interval"`

	// SendGridAPIKey enables the email notification channel.
	SendGridAPIKey string `json:"sendgrid_api_key,omitempty"`

	// SessionSigningKey verifies bearer sessions on the HTTP endpoints.
	SessionSigningKey string `json:"session_signing_key,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		EvalInterval: time.Minute,
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "alert-log",
					Type:        "jetstream",
					Subject:     "log.>",
					StreamName:  "METAHUB_LOGS",
					Description: "In-app alert notifications",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.EvalInterval <= 0 {
		return fmt.Errorf("eval_interval must be positive")
	}
	return nil
}

package webhook

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// webhookSchema defines the configuration schema.
var webhookSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the webhook receiver component.
type Config struct {
	// VerifyToken answers Meta's subscription challenge.
	VerifyToken string `json:"verify_token"`

	// AppSecret validates X-Hub-Signature-256 on inbound posts. When empty
	// signature validation is skipped (local development).
	AppSecret string `json:"app_secret,omitempty"`

	// RedisURL enables provider-event dedup when set.
	RedisURL string `json:"redis_url,omitempty"`

	// SessionSigningKey verifies bearer sessions on the logs endpoint.
	SessionSigningKey string `json:"session_signing_key,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "dispatch",
					Type:        "jetstream",
					Subject:     "delivery.dispatch.>",
					StreamName:  "DELIVERY",
					Description: "New-event nudges for the delivery workers",
					Required:    true,
				},
				{
					Name:        "event-log",
					Type:        "jetstream",
					Subject:     "log.>",
					StreamName:  "METAHUB_LOGS",
					Description: "Webhook processing log entries",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.VerifyToken == "" {
		return fmt.Errorf("verify_token is required")
	}
	return nil
}

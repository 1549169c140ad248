package webhook

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the webhook receiver component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "webhook",
		Factory:     NewComponent,
		Schema:      webhookSchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "integration",
		Description: "Receives Meta webhooks, resolves routes and enqueues delivery events",
		Version:     "0.1.0",
	})
}

package alert

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the alert evaluator component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "alerts",
		Factory:     NewComponent,
		Schema:      alertSchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "integration",
		Description: "Evaluates alert rules on a fixed cadence and notifies channels",
		Version:     "0.1.0",
	})
}

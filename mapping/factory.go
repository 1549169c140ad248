package mapping

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the transform component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "transform",
		Factory:     NewComponent,
		Schema:      mappingSchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "integration",
		Description: "Transform preview endpoint for the mapping editor",
		Version:     "0.1.0",
	})
}

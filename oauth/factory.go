package oauth

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the oauth component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "oauth",
		Factory:     NewComponent,
		Schema:      oauthSchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "integration",
		Description: "Meta OAuth connect flow and resource enumeration",
		Version:     "0.1.0",
	})
}

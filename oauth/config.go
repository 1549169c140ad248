package oauth

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// oauthSchema defines the configuration schema.
var oauthSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the oauth component.
type Config struct {
	// AppID and AppSecret are the Meta OAuth client credentials.
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`

	// StateSecret signs the OAuth state parameter.
	StateSecret string `json:"state_secret"`

	// AppURL is where the callback redirects the browser after a
	// successful connect.
	AppURL string `json:"app_url"`

	// RedirectURL is the public callback URL registered with Meta.
	RedirectURL string `json:"redirect_url"`

	// SessionSigningKey verifies bearer sessions on the start endpoint.
	SessionSigningKey string `json:"session_signing_key,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{Ports: &component.PortConfig{}}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.AppID == "" || c.AppSecret == "" {
		return fmt.Errorf("app_id and app_secret are required")
	}
	if c.StateSecret == "" {
		return fmt.Errorf("state_secret is required")
	}
	if c.AppURL == "" {
		return fmt.Errorf("app_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

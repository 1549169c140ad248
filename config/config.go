// Package config provides configuration loading and management for Metahub.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config represents the complete Metahub configuration
type Config struct {
	Meta     MetaConfig     `yaml:"meta"`
	App      AppConfig      `yaml:"app"`
	NATS     NATSConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// MetaConfig holds the Meta app credentials and webhook settings
type MetaConfig struct {
	// AppID and AppSecret are the Meta OAuth client credentials
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	// VerifyToken answers the webhook subscription challenge
	VerifyToken string `yaml:"verify_token"`
	// StateSecret signs the OAuth state parameter
	StateSecret string `yaml:"state_secret"`
}

// AppConfig configures the outward-facing application settings
type AppConfig struct {
	// URL is where the OAuth callback redirects the browser
	URL string `yaml:"url" validate:"omitempty,url"`
	// RedirectURL is the public OAuth callback URL registered with Meta
	// (default: URL + /oauth/meta/callback)
	RedirectURL string `yaml:"redirect_url" validate:"omitempty,url"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url" validate:"required"`
}

// RedisConfig configures the webhook dedup cache
type RedisConfig struct {
	// URL is the Redis connection URL (empty = dedup disabled)
	URL string `yaml:"url"`
}

// SessionConfig configures bearer session verification
type SessionConfig struct {
	// SigningKey verifies session JWTs on the HTTP surface
	SigningKey string `yaml:"signing_key"`
}

// SendGridConfig configures the alert email channel
type SendGridConfig struct {
	// APIKey enables the email notification channel (empty = disabled)
	APIKey string `yaml:"api_key"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	// Port is the service-manager HTTP port
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.App.RedirectURL != "" && c.App.URL == "" {
		return fmt.Errorf("app.url is required when app.redirect_url is set")
	}
	return nil
}

// OAuthRedirectURL returns the configured callback URL, defaulting to
// app.url + /oauth/meta/callback.
func (c *Config) OAuthRedirectURL() string {
	if c.App.RedirectURL != "" {
		return c.App.RedirectURL
	}
	if c.App.URL == "" {
		return ""
	}
	return c.App.URL + "/oauth/meta/callback"
}

// LoadFromFile loads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Meta
	if other.Meta.AppID != "" {
		c.Meta.AppID = other.Meta.AppID
	}
	if other.Meta.AppSecret != "" {
		c.Meta.AppSecret = other.Meta.AppSecret
	}
	if other.Meta.VerifyToken != "" {
		c.Meta.VerifyToken = other.Meta.VerifyToken
	}
	if other.Meta.StateSecret != "" {
		c.Meta.StateSecret = other.Meta.StateSecret
	}

	// App
	if other.App.URL != "" {
		c.App.URL = other.App.URL
	}
	if other.App.RedirectURL != "" {
		c.App.RedirectURL = other.App.RedirectURL
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Redis
	if other.Redis.URL != "" {
		c.Redis.URL = other.Redis.URL
	}

	// Session
	if other.Session.SigningKey != "" {
		c.Session.SigningKey = other.Session.SigningKey
	}

	// SendGrid
	if other.SendGrid.APIKey != "" {
		c.SendGrid.APIKey = other.SendGrid.APIKey
	}

	// HTTP
	if other.HTTP.Port != 0 {
		c.HTTP.Port = other.HTTP.Port
	}
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "metahub.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/metahub"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// envOverrides is the closed set of environment variables that override
// file-level configuration.
var envOverrides = map[string]func(*Config, string){
	"META_APP_ID":               func(c *Config, v string) { c.Meta.AppID = v },
	"META_APP_SECRET":           func(c *Config, v string) { c.Meta.AppSecret = v },
	"META_WEBHOOK_VERIFY_TOKEN": func(c *Config, v string) { c.Meta.VerifyToken = v },
	"OAUTH_STATE_SECRET":        func(c *Config, v string) { c.Meta.StateSecret = v },
	"APP_URL":                   func(c *Config, v string) { c.App.URL = v },
	"NATS_URL":                  func(c *Config, v string) { c.NATS.URL = v },
	"REDIS_URL":                 func(c *Config, v string) { c.Redis.URL = v },
	"SENDGRID_API_KEY":          func(c *Config, v string) { c.SendGrid.APIKey = v },
	"SESSION_SIGNING_KEY":       func(c *Config, v string) { c.Session.SigningKey = v },
}

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/metahub/config.yaml)
// 3. Project config (metahub.yaml in current or parent directories)
// 4. Environment variables
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	// Load project config
	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// Environment overrides take highest precedence
	ApplyEnv(config)

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overlays recognized environment variables onto the config.
func ApplyEnv(config *Config) {
	for name, apply := range envOverrides {
		if v := os.Getenv(name); v != "" {
			apply(config, v)
		}
	}
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for metahub.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}

// Package main provides the metahub binary entry point.
// Metahub is a multi-tenant Meta integration hub: it ingests WhatsApp and
// lead-ads webhooks, transforms payloads and delivers them to customer
// endpoints with durable retries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	ssconfig "github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"

	"github.com/c360studio/metahub/alert"
	"github.com/c360studio/metahub/config"
	"github.com/c360studio/metahub/delivery"
	"github.com/c360studio/metahub/logsink"
	"github.com/c360studio/metahub/mapping"
	"github.com/c360studio/metahub/oauth"
	"github.com/c360studio/metahub/webhook"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "metahub"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "metahub",
		Short: "Meta integration hub",
		Long: `Metahub receives WhatsApp and lead-ads webhooks from Meta, maps the
payloads per tenant, and delivers them to customer endpoints with durable
retries, a dead-letter queue and alerting.

All components communicate via NATS using the semstreams framework.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load .env if present; real env wins
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	// Load configuration
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Build the semstreams platform config (streams, services, components)
	platformCfg := buildPlatformConfig(cfg)
	if err := platformCfg.Validate(); err != nil {
		return fmt.Errorf("invalid platform configuration: %w", err)
	}

	// Ensure JetStream streams exist
	if err := ensureStreams(ctx, platformCfg, natsClient, logger); err != nil {
		return err
	}

	slog.Info("Metahub ready", "version", Version)

	// Create remaining infrastructure
	metricsRegistry := metric.NewMetricsRegistry()
	platform := types.PlatformMeta{
		Org:      "metahub",
		Platform: "metahub-local",
	}

	// Create and start config manager (required for component-manager to access component configs)
	configManager, err := ssconfig.NewConfigManager(platformCfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()

	// Register all semstreams components
	slog.Debug("Registering semstreams component factories")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}

	// Register metahub-specific components
	slog.Debug("Registering metahub component factories")
	if err := webhook.Register(componentRegistry); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}

	if err := delivery.Register(componentRegistry); err != nil {
		return fmt.Errorf("register delivery: %w", err)
	}

	if err := alert.Register(componentRegistry); err != nil {
		return fmt.Errorf("register alerts: %w", err)
	}

	if err := oauth.Register(componentRegistry); err != nil {
		return fmt.Errorf("register oauth: %w", err)
	}

	if err := mapping.Register(componentRegistry); err != nil {
		return fmt.Errorf("register transform: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	// Create service registry and manager (semstreams pattern)
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)

	// Create service dependencies
	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	// Configure and create services
	if err := configureAndCreateServices(platformCfg, manager, svcDeps); err != nil {
		return err
	}

	slog.Info("All services configured")

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Start all services (includes HTTP server with health endpoints)
	slog.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started successfully")

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop all services
	shutdownTimeout := 30 * time.Second
	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
	}

	slog.Info("Metahub shutdown complete")
	return nil
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config.ApplyEnv(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	// Layered load: defaults, user config, project config, environment
	return config.NewLoader(logger).Load()
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, cfg.NATS.URL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, cfg.NATS.URL)
	}

	logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *ssconfig.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := ssconfig.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

// buildPlatformConfig maps the metahub config onto the semstreams platform
// config: streams, the HTTP service manager and per-component configs.
func buildPlatformConfig(cfg *config.Config) *ssconfig.Config {
	webhookJSON := mustJSON(map[string]any{
		"verify_token":        cfg.Meta.VerifyToken,
		"app_secret":          cfg.Meta.AppSecret,
		"redis_url":           cfg.Redis.URL,
		"session_signing_key": cfg.Session.SigningKey,
	})
	deliveryJSON := mustJSON(map[string]any{
		"session_signing_key": cfg.Session.SigningKey,
	})
	alertJSON := mustJSON(map[string]any{
		"sendgrid_api_key":    cfg.SendGrid.APIKey,
		"session_signing_key": cfg.Session.SigningKey,
	})
	oauthJSON := mustJSON(map[string]any{
		"app_id":              cfg.Meta.AppID,
		"app_secret":          cfg.Meta.AppSecret,
		"state_secret":        cfg.Meta.StateSecret,
		"app_url":             cfg.App.URL,
		"redirect_url":        cfg.OAuthRedirectURL(),
		"session_signing_key": cfg.Session.SigningKey,
	})
	mappingJSON := mustJSON(map[string]any{
		"session_signing_key": cfg.Session.SigningKey,
	})

	serviceManagerJSON := mustJSON(map[string]any{
		"http_port":  cfg.HTTP.Port,
		"swagger_ui": false,
		"server_info": map[string]string{
			"title":       "Metahub API",
			"description": "Meta integration hub - webhooks, mapping and durable delivery",
			"version":     Version,
		},
	})

	return &ssconfig.Config{
		Version: "1.0.0",
		Platform: ssconfig.PlatformConfig{
			Org:         "metahub",
			ID:          "metahub-local",
			Environment: "dev",
		},
		NATS: ssconfig.NATSConfig{
			URLs:          []string{cfg.NATS.URL},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: ssconfig.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{
			"service-manager": types.ServiceConfig{
				Name:    "service-manager",
				Enabled: true,
				Config:  serviceManagerJSON,
			},
		},
		Components: ssconfig.ComponentConfigs{
			"webhook": types.ComponentConfig{
				Name:    "webhook",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  webhookJSON,
			},
			"delivery": types.ComponentConfig{
				Name:    "delivery",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  deliveryJSON,
			},
			"alerts": types.ComponentConfig{
				Name:    "alerts",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  alertJSON,
			},
			"oauth": types.ComponentConfig{
				Name:    "oauth",
				Type:    types.ComponentTypeProcessor,
				Enabled: cfg.Meta.AppID != "",
				Config:  oauthJSON,
			},
			"transform": types.ComponentConfig{
				Name:    "transform",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  mappingJSON,
			},
		},
		Streams: ssconfig.StreamConfigs{
			logsink.StreamName: ssconfig.StreamConfig{
				Subjects: []string{"log.>"},
				MaxAge:   "720h",
				Storage:  "file",
				Replicas: 1,
			},
			"DELIVERY": ssconfig.StreamConfig{
				Subjects: []string{"delivery.>"},
				MaxAge:   "24h",
				Storage:  "file",
				Replicas: 1,
			},
		},
	}
}

func mustJSON(v map[string]any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *ssconfig.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Configuring Manager")
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			slog.Debug("Skipping service-manager (configured directly)")
			continue
		}

		if err := createServiceIfEnabled(manager, name, svcConfig, svcDeps); err != nil {
			return err
		}
	}

	return nil
}

// createServiceIfEnabled creates a service if it's enabled and registered
func createServiceIfEnabled(
	manager *service.Manager,
	name string,
	svcConfig types.ServiceConfig,
	svcDeps *service.Dependencies,
) error {
	if !svcConfig.Enabled {
		slog.Info("Service disabled in config", "name", name)
		return nil
	}

	if !manager.HasConstructor(name) {
		slog.Warn("Service configured but not registered", "key", name, "available_constructors", manager.ListConstructors())
		return nil
	}

	if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
		return fmt.Errorf("create service %s: %w", name, err)
	}

	slog.Info("Created service", "name", name, "config_name", svcConfig.Name)
	return nil
}

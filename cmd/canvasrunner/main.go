// Package main is the entry point for the canvasrunner application.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/tcmartin/canvasrunner/pkg/api"
	"github.com/tcmartin/canvasrunner/pkg/config"
	"github.com/tcmartin/canvasrunner/pkg/loader"
	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/processors"
	"github.com/tcmartin/canvasrunner/pkg/scheduler"
	"github.com/tcmartin/canvasrunner/pkg/storage"
	"github.com/tcmartin/canvasrunner/pkg/utils"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "canvasrunner"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Application failed: %v", err)
		}
	case <-stop:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// loadConfig loads the configuration from the specified path or creates a
// default one
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", *configPath, err)
		}
	} else {
		// Look for a config file in standard locations
		locations := []string{
			"./config.json",
			"./configs/config.json",
			filepath.Join(os.Getenv("HOME"), ".canvasrunner", "config.json"),
			"/etc/canvasrunner/config.json",
		}

		for _, path := range locations {
			if loadedCfg, err := config.LoadConfig(path); err == nil {
				cfg = loadedCfg
				break
			}
		}

		// If no config file is found, create a default one
		if cfg == nil {
			cfg = config.DefaultConfig()

			defaultPath := filepath.Join(os.Getenv("HOME"), ".canvasrunner", "config.json")
			if err := config.SaveConfig(cfg, defaultPath); err != nil {
				return nil, fmt.Errorf("failed to save default config: %w", err)
			}

			fmt.Printf("Created default configuration at %s\n", defaultPath)
		}
	}

	overrideConfigFromEnv(cfg)

	return cfg, nil
}

// overrideConfigFromEnv overrides configuration values from environment
// variables
func overrideConfigFromEnv(cfg *config.Config) {
	// Server configuration
	if host := os.Getenv("CANVASRUNNER_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("CANVASRUNNER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Storage configuration
	if storageType := os.Getenv("CANVASRUNNER_STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}

	// DynamoDB configuration
	if region := os.Getenv("CANVASRUNNER_DYNAMODB_REGION"); region != "" {
		cfg.Storage.DynamoDB.Region = region
	}
	if endpoint := os.Getenv("CANVASRUNNER_DYNAMODB_ENDPOINT"); endpoint != "" {
		cfg.Storage.DynamoDB.Endpoint = endpoint
	}
	if tablePrefix := os.Getenv("CANVASRUNNER_DYNAMODB_TABLE_PREFIX"); tablePrefix != "" {
		cfg.Storage.DynamoDB.TablePrefix = tablePrefix
	}

	// PostgreSQL configuration
	if host := os.Getenv("CANVASRUNNER_POSTGRES_HOST"); host != "" {
		cfg.Storage.Postgres.Host = host
	}
	if port := os.Getenv("CANVASRUNNER_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Storage.Postgres.Port = p
		}
	}
	if database := os.Getenv("CANVASRUNNER_POSTGRES_DATABASE"); database != "" {
		cfg.Storage.Postgres.Database = database
	}
	if user := os.Getenv("CANVASRUNNER_POSTGRES_USER"); user != "" {
		cfg.Storage.Postgres.User = user
	}
	if password := os.Getenv("CANVASRUNNER_POSTGRES_PASSWORD"); password != "" {
		cfg.Storage.Postgres.Password = password
	}

	// Redis configuration
	if address := os.Getenv("CANVASRUNNER_REDIS_ADDRESS"); address != "" {
		cfg.Storage.Redis.Address = address
	}
	if password := os.Getenv("CANVASRUNNER_REDIS_PASSWORD"); password != "" {
		cfg.Storage.Redis.Password = password
	}

	// AI provider configuration
	if apiKey := os.Getenv("CANVASRUNNER_AI_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	}
	if baseURL := os.Getenv("CANVASRUNNER_AI_BASE_URL"); baseURL != "" {
		cfg.AI.BaseURL = baseURL
	}
}

// App holds the wired application components
type App struct {
	config          *config.Config
	server          *api.Server
	storageProvider storage.StorageProvider
	recovery        *scheduler.RecoveryService
	hub             *api.EventHub
	cron            *cron.Cron
	logger          logging.Logger
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	storageProvider, err := buildStorageProvider(cfg)
	if err != nil {
		return nil, err
	}

	if err := storageProvider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := processors.NewRegistry()
	if err := processors.RegisterCore(registry); err != nil {
		return nil, fmt.Errorf("failed to register processors: %w", err)
	}

	aiClient := utils.NewAIClient(utils.AIProvider(cfg.AI.Provider), cfg.AI.APIKey, cfg.AI.BaseURL)

	hub := api.NewEventHub(storageProvider, logger)

	sched := scheduler.NewScheduler(storageProvider, registry, logger,
		scheduler.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent),
		scheduler.WithAIClient(aiClient),
		scheduler.WithObserver(hub))

	recovery := scheduler.NewRecoveryService(sched, logger,
		scheduler.WithRecoveryParallelism(cfg.Scheduler.RecoveryParallelism))

	canvasLoader := loader.NewCanvasLoader(registry)

	server := api.NewServer(cfg, storageProvider, sched, canvasLoader, hub, logger)

	return &App{
		config:          cfg,
		server:          server,
		storageProvider: storageProvider,
		recovery:        recovery,
		hub:             hub,
		logger:          logger,
	}, nil
}

// buildStorageProvider maps the application config onto a storage provider
func buildStorageProvider(cfg *config.Config) (storage.StorageProvider, error) {
	providerConfig := storage.ProviderConfig{}

	switch cfg.Storage.Type {
	case "memory":
		providerConfig.Type = storage.MemoryProviderType
	case "dynamodb":
		providerConfig.Type = storage.DynamoDBProviderType
		providerConfig.DynamoDB = &storage.DynamoDBProviderConfig{
			Region:      cfg.Storage.DynamoDB.Region,
			TablePrefix: cfg.Storage.DynamoDB.TablePrefix,
			Endpoint:    cfg.Storage.DynamoDB.Endpoint,
		}
	case "postgres", "postgresql":
		providerConfig.Type = storage.PostgreSQLProviderType
		providerConfig.PostgreSQL = &storage.PostgreSQLProviderConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			Database: cfg.Storage.Postgres.Database,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		}
	case "redis":
		providerConfig.Type = storage.RedisProviderType
		providerConfig.Redis = &storage.RedisProviderConfig{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return storage.NewProvider(providerConfig)
}

// Start recovers batches left dangling by a prior crash, then serves the
// API. The startup sweep runs before the server accepts traffic so
// recovered and newly triggered batches never contend for the same rows.
func (a *App) Start() error {
	ctx := context.Background()

	if err := a.recovery.RecoverDanglingBatches(ctx); err != nil {
		return fmt.Errorf("startup recovery sweep failed: %w", err)
	}

	if expr := a.config.Scheduler.RecoveryCron; expr != "" {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(expr, func() {
			if err := a.recovery.RecoverDanglingBatches(context.Background()); err != nil {
				a.logger.Error("periodic recovery sweep failed", logging.F("error", err.Error()))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid recovery cron expression %q: %w", expr, err)
		}
		a.cron.Start()
	}

	return a.server.Start()
}

// Stop shuts the application down gracefully
func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		a.cron.Stop()
	}

	if err := a.server.Stop(ctx); err != nil {
		return err
	}

	a.hub.Close()

	return a.storageProvider.Close()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/jobgtm/pipeline-be/internal/api/handler"
	"github.com/jobgtm/pipeline-be/internal/api/router"
	"github.com/jobgtm/pipeline-be/internal/config"
	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/pipeline/storage"
	"github.com/jobgtm/pipeline-be/internal/scrape"
	"github.com/jobgtm/pipeline-be/internal/workflow"
	"github.com/jobgtm/pipeline-be/shared/logger"
	"github.com/jobgtm/pipeline-be/shared/postgresql"
	"github.com/jobgtm/pipeline-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("COORDINATOR_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/coordinator-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateCoordinatorConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting coordinator service",
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// The coordinator publishes onto raw_jobs_for_processing; declaring the
	// topology here keeps startup order independent of the consumer service.
	rawTopo := rabbitmq.NewStageTopology(domain.RawJobsQueue)
	if err := rabbitClient.DeclareStageTopology(rawTopo); err != nil {
		return fmt.Errorf("failed to declare topology for %s: %w", rawTopo.Queue, err)
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	scraper := scrape.NewClient(
		cfg.Services.ScraperURL,
		cfg.Services.ScraperTimeout,
		appLogger.Logger,
	)

	engine := workflow.NewEngine(store, workflow.Config{
		ChunkSize:         cfg.Coordinator.ChunkSize,
		MaxParallelChunks: cfg.Coordinator.MaxParallelChunks,
		ActivityPolicy:    workflow.DefaultRetryPolicy(),
	}, appLogger.ForComponent("engine").Logger)

	runnerCfg := workflow.RunnerConfig{
		MaxConcurrentPerChunk: cfg.Coordinator.MaxConcurrentPerChunk,
		SliceDelay:            cfg.Coordinator.SliceDelay,
		PublishBatchSize:      cfg.Coordinator.PublishBatchSize,
		ActivityPolicy:        workflow.DefaultRetryPolicy(),
	}

	runners := map[string]workflow.ChunkRunner{
		workflow.TypeDetailScrape: workflow.NewDetailScrapeRunner(
			store, scraper, runnerCfg, appLogger.ForComponent("detail-scrape").Logger,
		),
		workflow.TypeEnrichmentDispatch: workflow.NewEnrichmentDispatchRunner(
			store, rabbitClient, rawTopo.Exchange, rawTopo.RoutingKey, runnerCfg,
			appLogger.ForComponent("enrichment-dispatch").Logger,
		),
	}

	// Create context that outlives individual HTTP requests: started runs
	// keep going after the triggering request returns.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, engine, store, runners, ctx)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Coordinator service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		shutdownCancel()
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		Service:      service,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		MaxRetryInterval:  cfg.Connection.MaxRetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, engine *workflow.Engine, store *storage.Storage, runners map[string]workflow.ChunkRunner, baseCtx context.Context) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:  logger,
		Engine:  engine,
		Runs:    store,
		Runners: runners,
		BaseCtx: baseCtx,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}

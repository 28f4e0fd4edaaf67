package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/jobgtm/pipeline-be/internal/config"
	"github.com/jobgtm/pipeline-be/internal/enrich"
	"github.com/jobgtm/pipeline-be/internal/pipeline/consumer"
	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/pipeline/retry"
	"github.com/jobgtm/pipeline-be/internal/pipeline/storage"
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
	defaultConfigPath := os.Getenv("CONSUMER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/consumer-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateConsumerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting consumer service",
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
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, cfg.Consumer.PrefetchCount, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Declare the three stage topologies (idempotent)
	scrapedTopo := rabbitmq.NewStageTopology(domain.ScrapedJobsQueue)
	rawTopo := rabbitmq.NewStageTopology(domain.RawJobsQueue)
	enrichedTopo := rabbitmq.NewStageTopology(domain.EnrichedJobsQueue)

	for _, topo := range []rabbitmq.StageTopology{scrapedTopo, rawTopo, enrichedTopo} {
		if err := rabbitClient.DeclareStageTopology(topo); err != nil {
			return fmt.Errorf("failed to declare topology for %s: %w", topo.Queue, err)
		}
	}

	appLogger.Info("Queue topology declared")

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	ollama := enrich.NewOllamaClient(
		cfg.Services.OllamaURL,
		cfg.Services.OllamaModel,
		cfg.Services.OllamaTimeout,
		appLogger.Logger,
	)

	// One retry policy per stage, republishing to the stage's own exchange
	scrapedPolicy := retry.NewPolicy(cfg.Consumer.MaxRetries, scrapedTopo.Exchange, scrapedTopo.RoutingKey, rabbitClient, appLogger.Logger)
	rawPolicy := retry.NewPolicy(cfg.Consumer.MaxRetries, rawTopo.Exchange, rawTopo.RoutingKey, rabbitClient, appLogger.Logger)
	enrichedPolicy := retry.NewPolicy(cfg.Consumer.MaxRetries, enrichedTopo.Exchange, enrichedTopo.RoutingKey, rabbitClient, appLogger.Logger)

	rawIngest := consumer.NewRawIngestConsumer(
		store,
		scrapedPolicy,
		cfg.Consumer.BatchSize,
		cfg.Consumer.BatchTimeout,
		appLogger.ForComponent("raw-ingest").Logger,
	)
	enrichment := consumer.NewEnrichmentConsumer(
		ollama,
		rabbitClient,
		rawPolicy,
		int64(cfg.Consumer.OllamaRateLimit),
		cfg.Consumer.BatchSize,
		cfg.Consumer.BatchTimeout,
		enrichedTopo.Exchange,
		enrichedTopo.RoutingKey,
		appLogger.ForComponent("ai-enrichment").Logger,
	)
	goldenStore := consumer.NewGoldenStoreConsumer(
		store,
		enrichedPolicy,
		cfg.Consumer.BatchSize,
		cfg.Consumer.BatchTimeout,
		appLogger.ForComponent("golden-store").Logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// Batch flush loops, one per stage consumer
	for _, flushLoop := range []func(context.Context){rawIngest.Run, enrichment.Run, goldenStore.Run} {
		flushLoop := flushLoop
		g.Go(func() error {
			flushLoop(gctx)
			return nil
		})
	}

	for _, stage := range []consumer.StageConsumer{rawIngest, enrichment, goldenStore} {
		runner := consumer.NewRunner(rabbitClient, stage, consumerTag(stage.Queue()), appLogger.Logger)
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}

	appLogger.Info("Consumer service started successfully",
		slog.Int("batch_size", cfg.Consumer.BatchSize),
		slog.Int("prefetch_count", cfg.Consumer.PrefetchCount),
		slog.Int("ollama_rate_limit", cfg.Consumer.OllamaRateLimit),
	)

	// Wait for interrupt signal or consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
	}()

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Consumer error",
				slog.Any("error", err),
			)
			return err
		}
	}

	cancel()

	// Flush loops finish their in-flight batch before exiting; wait for the
	// group to settle before closing connections.
	done := make(chan struct{})
	go func() {
		<-errChan
		close(done)
	}()

	shutdownTimeout := cfg.Consumer.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	select {
	case <-done:
		appLogger.Info("Consumers stopped gracefully")
	case <-time.After(shutdownTimeout):
		appLogger.Warn("Consumer shutdown timeout exceeded, forcing exit")
	}

	if dbClient != nil {
		dbClient.Close()
	}
	if rabbitClient != nil {
		rabbitClient.Close()
	}

	appLogger.Info("Consumer service shutdown complete")
	return nil
}

// consumerTag builds a unique per-process consumer tag for one queue
func consumerTag(queue string) string {
	return fmt.Sprintf("%s-consumer-%s", queue, uuid.NewString()[:8])
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
func initRabbitMQ(cfg *config.RabbitMQConfig, prefetchCount int, logger *slog.Logger) (*rabbitmq.Client, error) {
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
		PrefetchCount:     prefetchCount,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

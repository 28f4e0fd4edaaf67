package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Consumer    ConsumerConfig    `yaml:"consumer"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Services    ServicesConfig    `yaml:"services"`
}

// ServerConfig holds HTTP server configuration for the ops API
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ConnectionConfig holds RabbitMQ connection retry settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	MaxRetryInterval  time.Duration `yaml:"max_retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ConsumerConfig holds pipeline stage consumer configuration
type ConsumerConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	PrefetchCount   int           `yaml:"prefetch_count"`
	OllamaRateLimit int           `yaml:"ollama_rate_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CoordinatorConfig holds chunked workflow coordinator configuration
type CoordinatorConfig struct {
	ChunkSize             int           `yaml:"chunk_size"`
	MaxParallelChunks     int           `yaml:"max_parallel_chunks"`
	MaxConcurrentPerChunk int           `yaml:"max_concurrent_per_chunk"`
	SliceDelay            time.Duration `yaml:"slice_delay"`
	PublishBatchSize      int           `yaml:"publish_batch_size"`
}

// ServicesConfig holds external collaborator endpoints
type ServicesConfig struct {
	ScraperURL     string        `yaml:"scraper_url"`
	ScraperTimeout time.Duration `yaml:"scraper_timeout"`
	OllamaURL      string        `yaml:"ollama_url"`
	OllamaModel    string        `yaml:"ollama_model"`
	OllamaTimeout  time.Duration `yaml:"ollama_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateShared checks the fields every service needs
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	return nil
}

// ValidateConsumerConfig checks the consumer-service configuration
func (c *Config) ValidateConsumerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Consumer.BatchSize <= 0 {
		return fmt.Errorf("consumer batch_size must be greater than 0")
	}

	if c.Consumer.BatchTimeout <= 0 {
		return fmt.Errorf("consumer batch_timeout must be greater than 0")
	}

	if c.Consumer.MaxRetries < 0 {
		return fmt.Errorf("consumer max_retries must not be negative")
	}

	if c.Consumer.OllamaRateLimit <= 0 {
		return fmt.Errorf("consumer ollama_rate_limit must be greater than 0")
	}

	if c.Services.OllamaURL == "" {
		return fmt.Errorf("services ollama_url is required")
	}

	return nil
}

// ValidateCoordinatorConfig checks the coordinator-service configuration
func (c *Config) ValidateCoordinatorConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Coordinator.ChunkSize <= 0 {
		return fmt.Errorf("coordinator chunk_size must be greater than 0")
	}

	if c.Coordinator.MaxParallelChunks <= 0 {
		return fmt.Errorf("coordinator max_parallel_chunks must be greater than 0")
	}

	if c.Coordinator.MaxConcurrentPerChunk <= 0 {
		return fmt.Errorf("coordinator max_concurrent_per_chunk must be greater than 0")
	}

	if c.Services.ScraperURL == "" {
		return fmt.Errorf("services scraper_url is required")
	}

	return nil
}

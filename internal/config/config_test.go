package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8081, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "jobgtm_db", cfg.Database.Database)
				assert.Equal(t, 50, cfg.Consumer.BatchSize)
				assert.Equal(t, 2*time.Second, cfg.Consumer.BatchTimeout)
				assert.Equal(t, 3, cfg.Consumer.MaxRetries)
				assert.Equal(t, 100, cfg.Coordinator.ChunkSize)
				assert.Equal(t, 3, cfg.Coordinator.MaxParallelChunks)
				assert.Equal(t, "llama3.2:3b", cfg.Services.OllamaModel)
				assert.Equal(t, "pipeline-be", cfg.App.Name)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8081},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobgtm_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
		},
		Consumer: ConsumerConfig{
			BatchSize:       50,
			BatchTimeout:    2 * time.Second,
			MaxRetries:      3,
			OllamaRateLimit: 2,
		},
		Coordinator: CoordinatorConfig{
			ChunkSize:             100,
			MaxParallelChunks:     3,
			MaxConcurrentPerChunk: 5,
		},
		Services: ServicesConfig{
			ScraperURL: "http://localhost:6000",
			OllamaURL:  "http://localhost:11434",
		},
	}
}

func TestConfig_ValidateConsumerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 0 },
			wantErr:   true,
			errString: "invalid rabbitmq port",
		},
		{
			name:      "zero batch size",
			mutate:    func(c *Config) { c.Consumer.BatchSize = 0 },
			wantErr:   true,
			errString: "batch_size must be greater than 0",
		},
		{
			name:      "zero batch timeout",
			mutate:    func(c *Config) { c.Consumer.BatchTimeout = 0 },
			wantErr:   true,
			errString: "batch_timeout must be greater than 0",
		},
		{
			name:      "negative max retries",
			mutate:    func(c *Config) { c.Consumer.MaxRetries = -1 },
			wantErr:   true,
			errString: "max_retries must not be negative",
		},
		{
			name:      "zero ollama rate limit",
			mutate:    func(c *Config) { c.Consumer.OllamaRateLimit = 0 },
			wantErr:   true,
			errString: "ollama_rate_limit must be greater than 0",
		},
		{
			name:      "missing ollama url",
			mutate:    func(c *Config) { c.Services.OllamaURL = "" },
			wantErr:   true,
			errString: "ollama_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateConsumerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateCoordinatorConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = -1 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "zero chunk size",
			mutate:    func(c *Config) { c.Coordinator.ChunkSize = 0 },
			wantErr:   true,
			errString: "chunk_size must be greater than 0",
		},
		{
			name:      "zero parallel chunks",
			mutate:    func(c *Config) { c.Coordinator.MaxParallelChunks = 0 },
			wantErr:   true,
			errString: "max_parallel_chunks must be greater than 0",
		},
		{
			name:      "zero per-chunk concurrency",
			mutate:    func(c *Config) { c.Coordinator.MaxConcurrentPerChunk = 0 },
			wantErr:   true,
			errString: "max_concurrent_per_chunk must be greater than 0",
		},
		{
			name:      "missing scraper url",
			mutate:    func(c *Config) { c.Services.ScraperURL = "" },
			wantErr:   true,
			errString: "scraper_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateCoordinatorConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

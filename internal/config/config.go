// Package config provides configuration management for the tuning platform
// services. It loads configuration from environment variables and .env files.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Vault     VaultConfig
	Staging   StagingConfig
	Queue     QueueConfig
	Vendors   VendorsConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration (pipeline event log)
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration (queue transport)
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// VaultConfig holds the credential vault configuration.
// MasterKeyHex must decode to 32 bytes (AES-256).
type VaultConfig struct {
	MasterKeyHex string
}

// Key decodes the configured master key.
func (c *VaultConfig) Key() ([]byte, error) {
	key, err := hex.DecodeString(c.MasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("VAULT_MASTER_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("VAULT_MASTER_KEY must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// StagingConfig holds local scratch and object-store configuration
type StagingConfig struct {
	ScratchDir string
}

// QueueConfig holds pipeline queue configuration
type QueueConfig struct {
	DecodeWorkers int
	BuildWorkers  int
	EncodeWorkers int
	MaxRetries    int
}

// VendorsConfig holds per-vendor endpoint overrides and timeouts
type VendorsConfig struct {
	AlientechBaseURL string
	AutoTunerBaseURL string
	MagicBaseURL     string
	DimsportBaseURL  string
	HTTPTimeout      time.Duration
	PollTimeout      time.Duration
}

// RateLimitConfig holds per-tier API rate limits (requests per second)
type RateLimitConfig struct {
	StandardTierRPS int
	ProTierRPS      int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "tuning_platform"),
				User:           getEnv("POSTGRES_USER", "tuning"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "tuning_platform"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Vault: VaultConfig{
			MasterKeyHex: getEnv("VAULT_MASTER_KEY", ""),
		},
		Staging: StagingConfig{
			ScratchDir: getEnv("STAGING_SCRATCH_DIR", os.TempDir()),
		},
		Queue: QueueConfig{
			DecodeWorkers: getEnvAsInt("QUEUE_DECODE_WORKERS", 4),
			BuildWorkers:  getEnvAsInt("QUEUE_BUILD_WORKERS", 4),
			EncodeWorkers: getEnvAsInt("QUEUE_ENCODE_WORKERS", 4),
			MaxRetries:    getEnvAsInt("QUEUE_MAX_RETRIES", 3),
		},
		Vendors: VendorsConfig{
			AlientechBaseURL: getEnv("ALIENTECH_BASE_URL", "https://encodingapi.alientech.to"),
			AutoTunerBaseURL: getEnv("AUTOTUNER_BASE_URL", "https://api.autotuner.com"),
			MagicBaseURL:     getEnv("MAGIC_BASE_URL", "https://api.magicmotorsport.com"),
			DimsportBaseURL:  getEnv("DIMSPORT_BASE_URL", "https://api.dimsport.it"),
			HTTPTimeout:      getEnvAsDuration("VENDOR_HTTP_TIMEOUT", 30*time.Second),
			PollTimeout:      getEnvAsDuration("VENDOR_POLL_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			StandardTierRPS: getEnvAsInt("RATE_LIMIT_STANDARD_RPS", 10),
			ProTierRPS:      getEnvAsInt("RATE_LIMIT_PRO_RPS", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

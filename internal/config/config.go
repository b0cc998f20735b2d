// Package config provides configuration management for Pipelit.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Observer ObserverConfig
	Auth     AuthConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration. An empty DSN selects the
// Redis-backed row stores instead; with a DSN set, workflow, execution,
// scheduled-job and epic rows live in Postgres while Redis keeps the
// ephemeral state, checkpoints, queues and pub/sub channels.
type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Debug        bool
}

// RedisConfig holds Redis-related configuration. Redis always backs the
// ephemeral per-execution state, checkpoints, the job queues and the
// broadcast bus; it also holds the entity rows when no database DSN is
// configured.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// ObserverConfig holds observer-related configuration.
type ObserverConfig struct {
	EnableHTTP      bool
	HTTPCallbackURL string
	HTTPMethod      string
	HTTPTimeout     time.Duration
	HTTPMaxRetries  int
	HTTPRetryDelay  time.Duration
	HTTPHeaders     map[string]string

	EnableLogger bool

	EnableWebSocket     bool
	WebSocketBufferSize int

	BufferSize int
}

// AuthConfig holds the websocket connect-time token check. Credential
// management and sessions belong to the external authoring layer; this is
// the one secret the streaming endpoint needs.
type AuthConfig struct {
	JWTSecret string
}

// Load loads the configuration from environment variables.
func Load() (*Config, error) {
	godotenv.Load()
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PIPELIT_PORT", 8585),
			Host:            getEnv("PIPELIT_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("PIPELIT_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("PIPELIT_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("PIPELIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("PIPELIT_DATABASE_DSN", ""),
			MaxOpenConns: getEnvAsInt("PIPELIT_DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("PIPELIT_DATABASE_MAX_IDLE_CONNS", 5),
			Debug:        getEnvAsBool("PIPELIT_DATABASE_DEBUG", false),
		},
		Redis: RedisConfig{
			URL:      getEnv("PIPELIT_REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("PIPELIT_REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("PIPELIT_REDIS_DB", 0),
			PoolSize: getEnvAsInt("PIPELIT_REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("PIPELIT_LOG_LEVEL", "info"),
			Format: getEnv("PIPELIT_LOG_FORMAT", "json"),
		},
		Observer: ObserverConfig{
			EnableHTTP:          getEnvAsBool("PIPELIT_OBSERVER_HTTP_ENABLED", false),
			HTTPCallbackURL:     getEnv("PIPELIT_OBSERVER_HTTP_URL", ""),
			HTTPMethod:          getEnv("PIPELIT_OBSERVER_HTTP_METHOD", "POST"),
			HTTPTimeout:         getEnvAsDuration("PIPELIT_OBSERVER_HTTP_TIMEOUT", 10*time.Second),
			HTTPMaxRetries:      getEnvAsInt("PIPELIT_OBSERVER_HTTP_MAX_RETRIES", 3),
			HTTPRetryDelay:      getEnvAsDuration("PIPELIT_OBSERVER_HTTP_RETRY_DELAY", 1*time.Second),
			HTTPHeaders:         parseHTTPHeaders(getEnv("PIPELIT_OBSERVER_HTTP_HEADERS", "")),
			EnableLogger:        getEnvAsBool("PIPELIT_OBSERVER_LOGGER_ENABLED", true),
			EnableWebSocket:     getEnvAsBool("PIPELIT_OBSERVER_WEBSOCKET_ENABLED", true),
			WebSocketBufferSize: getEnvAsInt("PIPELIT_OBSERVER_WEBSOCKET_BUFFER_SIZE", 256),
			BufferSize:          getEnvAsInt("PIPELIT_OBSERVER_BUFFER_SIZE", 100),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("PIPELIT_JWT_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("PIPELIT_JWT_SECRET must be at least 32 characters")
	}

	return nil
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// parseHTTPHeaders parses HTTP headers from environment variable
// Format: "Key1:Value1,Key2:Value2"
func parseHTTPHeaders(headersStr string) map[string]string {
	headers := make(map[string]string)
	if headersStr == "" {
		return headers
	}

	pairs := strings.Split(headersStr, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return headers
}

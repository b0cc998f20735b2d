package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Config.Load() Tests ====================

func TestConfig_Load_DefaultValues(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 8585, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 10, cfg.Redis.PoolSize)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.False(t, cfg.Observer.EnableHTTP)
	assert.True(t, cfg.Observer.EnableLogger)
	assert.True(t, cfg.Observer.EnableWebSocket)
	assert.Equal(t, 256, cfg.Observer.WebSocketBufferSize)
	assert.Equal(t, 100, cfg.Observer.BufferSize)

	assert.Equal(t, "", cfg.Auth.JWTSecret)
}

func TestConfig_Load_CustomValues(t *testing.T) {
	clearEnv()

	os.Setenv("PIPELIT_PORT", "9090")
	os.Setenv("PIPELIT_HOST", "127.0.0.1")
	os.Setenv("PIPELIT_READ_TIMEOUT", "30s")

	os.Setenv("PIPELIT_REDIS_URL", "redis://localhost:6380")
	os.Setenv("PIPELIT_REDIS_PASSWORD", "secret")
	os.Setenv("PIPELIT_REDIS_DB", "1")
	os.Setenv("PIPELIT_REDIS_POOL_SIZE", "20")

	os.Setenv("PIPELIT_LOG_LEVEL", "debug")
	os.Setenv("PIPELIT_LOG_FORMAT", "text")

	os.Setenv("PIPELIT_OBSERVER_HTTP_ENABLED", "true")
	os.Setenv("PIPELIT_OBSERVER_HTTP_URL", "http://example.com/webhook")
	os.Setenv("PIPELIT_OBSERVER_HTTP_METHOD", "PUT")
	os.Setenv("PIPELIT_OBSERVER_HTTP_TIMEOUT", "20s")
	os.Setenv("PIPELIT_OBSERVER_HTTP_MAX_RETRIES", "5")
	os.Setenv("PIPELIT_OBSERVER_HTTP_RETRY_DELAY", "2s")
	os.Setenv("PIPELIT_OBSERVER_HTTP_HEADERS", "Authorization:Bearer token,Content-Type:application/json")
	os.Setenv("PIPELIT_OBSERVER_LOGGER_ENABLED", "false")
	os.Setenv("PIPELIT_OBSERVER_WEBSOCKET_ENABLED", "false")
	os.Setenv("PIPELIT_OBSERVER_WEBSOCKET_BUFFER_SIZE", "512")
	os.Setenv("PIPELIT_OBSERVER_BUFFER_SIZE", "200")

	os.Setenv("PIPELIT_JWT_SECRET", "a-secret-at-least-32-characters-long")

	defer clearEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "redis://localhost:6380", cfg.Redis.URL)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, 20, cfg.Redis.PoolSize)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.True(t, cfg.Observer.EnableHTTP)
	assert.Equal(t, "http://example.com/webhook", cfg.Observer.HTTPCallbackURL)
	assert.Equal(t, "PUT", cfg.Observer.HTTPMethod)
	assert.Equal(t, 20*time.Second, cfg.Observer.HTTPTimeout)
	assert.Equal(t, 5, cfg.Observer.HTTPMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Observer.HTTPRetryDelay)
	assert.Equal(t, "Bearer token", cfg.Observer.HTTPHeaders["Authorization"])
	assert.Equal(t, "application/json", cfg.Observer.HTTPHeaders["Content-Type"])
	assert.False(t, cfg.Observer.EnableLogger)
	assert.False(t, cfg.Observer.EnableWebSocket)
	assert.Equal(t, 512, cfg.Observer.WebSocketBufferSize)
	assert.Equal(t, 200, cfg.Observer.BufferSize)

	assert.Equal(t, "a-secret-at-least-32-characters-long", cfg.Auth.JWTSecret)
}

func TestConfig_Load_InvalidValuesUsesDefaults(t *testing.T) {
	clearEnv()

	os.Setenv("PIPELIT_PORT", "invalid")
	os.Setenv("PIPELIT_READ_TIMEOUT", "invalid_duration")

	defer clearEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 8585, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

// ==================== Config.Validate() Tests ====================

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"Port too low", 0},
		{"Port negative", -1},
		{"Port too high", 65536},
		{"Port way too high", 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid port")
		})
	}
}

func TestConfig_Validate_ValidPorts(t *testing.T) {
	tests := []int{1, 80, 443, 8080, 8585, 65535}

	for _, port := range tests {
		t.Run("Port "+string(rune(port)), func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = port
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	tests := []string{"trace", "verbose", "critical", "invalid", ""}

	for _, level := range tests {
		t.Run("Level "+level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logging.Level = level

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid log level")
		})
	}
}

func TestConfig_Validate_ValidLogLevels(t *testing.T) {
	tests := []string{"debug", "info", "warn", "error"}

	for _, level := range tests {
		t.Run("Level "+level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logging.Level = level
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestConfig_Validate_InvalidLogFormat(t *testing.T) {
	tests := []string{"xml", "yaml", "csv", "invalid", ""}

	for _, format := range tests {
		t.Run("Format "+format, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logging.Format = format

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid log format")
		})
	}
}

func TestConfig_Validate_ValidLogFormats(t *testing.T) {
	tests := []string{"json", "text"}

	for _, format := range tests {
		t.Run("Format "+format, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logging.Format = format
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestConfig_Validate_ShortJWTSecretRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = "too-short"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PIPELIT_JWT_SECRET must be at least 32 characters")
}

func TestConfig_Validate_EmptyJWTSecretAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = ""
	assert.NoError(t, cfg.Validate())
}

// ==================== Helper Functions Tests ====================

func TestGetEnv_WithValue(t *testing.T) {
	os.Setenv("TEST_KEY", "test_value")
	defer os.Unsetenv("TEST_KEY")

	result := getEnv("TEST_KEY", "default")
	assert.Equal(t, "test_value", result)
}

func TestGetEnv_WithoutValue(t *testing.T) {
	os.Unsetenv("TEST_KEY")

	result := getEnv("TEST_KEY", "default")
	assert.Equal(t, "default", result)
}

func TestGetEnvAsInt_ValidInteger(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")

	result := getEnvAsInt("TEST_INT", 10)
	assert.Equal(t, 42, result)
}

func TestGetEnvAsInt_InvalidInteger(t *testing.T) {
	os.Setenv("TEST_INT", "not_a_number")
	defer os.Unsetenv("TEST_INT")

	result := getEnvAsInt("TEST_INT", 10)
	assert.Equal(t, 10, result)
}

func TestGetEnvAsInt_EmptyString(t *testing.T) {
	os.Unsetenv("TEST_INT")

	result := getEnvAsInt("TEST_INT", 10)
	assert.Equal(t, 10, result)
}

func TestGetEnvAsInt_NegativeNumber(t *testing.T) {
	os.Setenv("TEST_INT", "-42")
	defer os.Unsetenv("TEST_INT")

	result := getEnvAsInt("TEST_INT", 10)
	assert.Equal(t, -42, result)
}

func TestGetEnvAsBool_True(t *testing.T) {
	tests := []string{"true", "True", "TRUE", "1", "t", "T"}

	for _, value := range tests {
		t.Run("Value "+value, func(t *testing.T) {
			os.Setenv("TEST_BOOL", value)
			defer os.Unsetenv("TEST_BOOL")

			result := getEnvAsBool("TEST_BOOL", false)
			assert.True(t, result)
		})
	}
}

func TestGetEnvAsBool_False(t *testing.T) {
	tests := []string{"false", "False", "FALSE", "0", "f", "F"}

	for _, value := range tests {
		t.Run("Value "+value, func(t *testing.T) {
			os.Setenv("TEST_BOOL", value)
			defer os.Unsetenv("TEST_BOOL")

			result := getEnvAsBool("TEST_BOOL", true)
			assert.False(t, result)
		})
	}
}

func TestGetEnvAsBool_Invalid(t *testing.T) {
	os.Setenv("TEST_BOOL", "invalid")
	defer os.Unsetenv("TEST_BOOL")

	result := getEnvAsBool("TEST_BOOL", true)
	assert.True(t, result)
}

func TestGetEnvAsBool_Empty(t *testing.T) {
	os.Unsetenv("TEST_BOOL")

	result := getEnvAsBool("TEST_BOOL", true)
	assert.True(t, result)
}

func TestGetEnvAsDuration_Valid(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"1s", 1 * time.Second},
		{"1m", 1 * time.Minute},
		{"1h", 1 * time.Hour},
		{"30s", 30 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"100ms", 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run("Duration "+tt.value, func(t *testing.T) {
			os.Setenv("TEST_DURATION", tt.value)
			defer os.Unsetenv("TEST_DURATION")

			result := getEnvAsDuration("TEST_DURATION", 10*time.Second)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGetEnvAsDuration_Invalid(t *testing.T) {
	os.Setenv("TEST_DURATION", "invalid")
	defer os.Unsetenv("TEST_DURATION")

	result := getEnvAsDuration("TEST_DURATION", 10*time.Second)
	assert.Equal(t, 10*time.Second, result)
}

func TestGetEnvAsDuration_Empty(t *testing.T) {
	os.Unsetenv("TEST_DURATION")

	result := getEnvAsDuration("TEST_DURATION", 10*time.Second)
	assert.Equal(t, 10*time.Second, result)
}

func TestParseHTTPHeaders_Valid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]string
	}{
		{
			name:  "Single header",
			input: "Authorization:Bearer token",
			expected: map[string]string{
				"Authorization": "Bearer token",
			},
		},
		{
			name:  "Multiple headers",
			input: "Authorization:Bearer token,Content-Type:application/json",
			expected: map[string]string{
				"Authorization": "Bearer token",
				"Content-Type":  "application/json",
			},
		},
		{
			name:  "Headers with spaces",
			input: "Authorization: Bearer token, Content-Type: application/json",
			expected: map[string]string{
				"Authorization": "Bearer token",
				"Content-Type":  "application/json",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseHTTPHeaders(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseHTTPHeaders_Empty(t *testing.T) {
	result := parseHTTPHeaders("")
	assert.Empty(t, result)
	assert.NotNil(t, result)
}

// ==================== Helper Functions ====================

func clearEnv() {
	envVars := []string{
		"PIPELIT_PORT", "PIPELIT_HOST", "PIPELIT_READ_TIMEOUT", "PIPELIT_WRITE_TIMEOUT", "PIPELIT_SHUTDOWN_TIMEOUT",
		"PIPELIT_REDIS_URL", "PIPELIT_REDIS_PASSWORD", "PIPELIT_REDIS_DB", "PIPELIT_REDIS_POOL_SIZE",
		"PIPELIT_LOG_LEVEL", "PIPELIT_LOG_FORMAT",
		"PIPELIT_OBSERVER_HTTP_ENABLED", "PIPELIT_OBSERVER_HTTP_URL", "PIPELIT_OBSERVER_HTTP_METHOD",
		"PIPELIT_OBSERVER_HTTP_TIMEOUT", "PIPELIT_OBSERVER_HTTP_MAX_RETRIES", "PIPELIT_OBSERVER_HTTP_RETRY_DELAY",
		"PIPELIT_OBSERVER_HTTP_HEADERS", "PIPELIT_OBSERVER_LOGGER_ENABLED", "PIPELIT_OBSERVER_WEBSOCKET_ENABLED",
		"PIPELIT_OBSERVER_WEBSOCKET_BUFFER_SIZE", "PIPELIT_OBSERVER_BUFFER_SIZE",
		"PIPELIT_JWT_SECRET",
	}

	for _, key := range envVars {
		os.Unsetenv(key)
	}
}

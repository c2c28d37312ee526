package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerPort string
	ServerHost string

	// Database configuration
	PostgresURL string
	RedisURL    string

	// Remote hosting provider configuration
	ProviderBaseURL string
	ProviderTimeout time.Duration

	// Billing collaborator configuration
	BillingBaseURL string
	BillingToken   string
	BillingTimeout time.Duration

	// Provisioning configuration
	RemoteNameSuffix   string
	NameReservationTTL time.Duration

	// Maintenance reconciler configuration
	SweepInterval   time.Duration
	StalenessWindow time.Duration
	BillingInterval time.Duration
	SweepPageSize   int
	SweepItemDelay  time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Application metadata
	AppName    string
	AppVersion string
}

// Load loads configuration from environment variables. A local .env file is
// applied first when present (development convenience, absent in production).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerHost:         getEnv("SERVER_HOST", "0.0.0.0"),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", "https://api.heroku.com"),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		BillingBaseURL:     getEnv("BILLING_BASE_URL", ""),
		BillingToken:       getEnv("BILLING_TOKEN", ""),
		BillingTimeout:     getEnvDuration("BILLING_TIMEOUT", 10*time.Second),
		RemoteNameSuffix:   getEnv("REMOTE_NAME_SUFFIX", "-td"),
		NameReservationTTL: getEnvDuration("NAME_RESERVATION_TTL", 5*time.Minute),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 15*time.Minute),
		StalenessWindow:    getEnvDuration("STALENESS_WINDOW", time.Hour),
		BillingInterval:    getEnvDuration("BILLING_INTERVAL", 24*time.Hour),
		SweepPageSize:      getEnvInt("SWEEP_PAGE_SIZE", 50),
		SweepItemDelay:     getEnvDuration("SWEEP_ITEM_DELAY", time.Second),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		AppName:            "deployment-orchestrator",
		AppVersion:         getEnv("APP_VERSION", "dev"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.PostgresURL == "" && os.Getenv("ENV") == "production" {
		return fmt.Errorf("POSTGRES_URL is required in production")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", c.LogLevel)
	}

	if c.SweepPageSize <= 0 {
		return fmt.Errorf("SWEEP_PAGE_SIZE must be positive, got %d", c.SweepPageSize)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}

	return nil
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return c.ServerHost + ":" + c.ServerPort
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal
		}
		return i
	}
	return defaultVal
}

// getEnvDuration retrieves a duration environment variable or returns a default value
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return defaultVal
		}
		return d
	}
	return defaultVal
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Recovery RecoveryConfig `json:"recovery"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ServerConfig contains the ops HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig contains Redis connection configuration for shared
// circuit-breaker state. Redis is optional; when Enabled is false the
// breaker state stays process-local.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
}

// RecoveryConfig contains the defaults handed to the recovery orchestrator.
// The orchestrator never reads the environment itself; everything flows
// through this struct at construction time.
type RecoveryConfig struct {
	MaxRetries              int           `json:"max_retries"`
	BackoffMultiplier       float64       `json:"backoff_multiplier"`
	InitialDelay            time.Duration `json:"initial_delay"`
	MaxDelay                time.Duration `json:"max_delay"`
	CircuitBreakingEnabled  bool          `json:"circuit_breaking_enabled"`
	BreakerFailureThreshold int           `json:"breaker_failure_threshold"`
	BreakerRecoveryTimeout  time.Duration `json:"breaker_recovery_timeout"`
	MaxConcurrentRecoveries int           `json:"max_concurrent_recoveries"`
	MetricsEnabled          bool          `json:"metrics_enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8090),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", false),
			Host:      getEnvString("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			Password:  getEnvString("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 10),
			KeyPrefix: getEnvString("REDIS_KEY_PREFIX", "safetalk:breaker"),
		},
		Recovery: RecoveryConfig{
			MaxRetries:              getEnvInt("RECOVERY_MAX_RETRIES", 3),
			BackoffMultiplier:       getEnvFloat("RECOVERY_BACKOFF_MULTIPLIER", 2.0),
			InitialDelay:            getEnvDuration("RECOVERY_INITIAL_DELAY", 1*time.Second),
			MaxDelay:                getEnvDuration("RECOVERY_MAX_DELAY", 30*time.Second),
			CircuitBreakingEnabled:  getEnvBool("RECOVERY_CIRCUIT_BREAKING_ENABLED", true),
			BreakerFailureThreshold: getEnvInt("RECOVERY_BREAKER_FAILURE_THRESHOLD", 5),
			BreakerRecoveryTimeout:  getEnvDuration("RECOVERY_BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			MaxConcurrentRecoveries: getEnvInt("RECOVERY_MAX_CONCURRENT", 10),
			MetricsEnabled:          getEnvBool("RECOVERY_METRICS_ENABLED", true),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Namespace: getEnvString("METRICS_NAMESPACE", "safetalk"),
			Subsystem: getEnvString("METRICS_SUBSYSTEM", "resilience"),
			Enabled:   getEnvBool("METRICS_ENABLED", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Recovery.MaxRetries < 0 {
		return fmt.Errorf("RECOVERY_MAX_RETRIES must be >= 0, got %d", c.Recovery.MaxRetries)
	}
	if c.Recovery.BackoffMultiplier <= 1.0 {
		return fmt.Errorf("RECOVERY_BACKOFF_MULTIPLIER must be > 1.0, got %f", c.Recovery.BackoffMultiplier)
	}
	if c.Recovery.InitialDelay < 0 {
		return fmt.Errorf("RECOVERY_INITIAL_DELAY must be >= 0")
	}
	if c.Recovery.MaxDelay < c.Recovery.InitialDelay {
		return fmt.Errorf("RECOVERY_MAX_DELAY must be >= RECOVERY_INITIAL_DELAY")
	}
	if c.Recovery.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("RECOVERY_BREAKER_FAILURE_THRESHOLD must be > 0, got %d", c.Recovery.BreakerFailureThreshold)
	}
	if c.Recovery.BreakerRecoveryTimeout <= 0 {
		return fmt.Errorf("RECOVERY_BREAKER_RECOVERY_TIMEOUT must be > 0")
	}
	if c.Recovery.MaxConcurrentRecoveries <= 0 {
		return fmt.Errorf("RECOVERY_MAX_CONCURRENT must be > 0, got %d", c.Recovery.MaxConcurrentRecoveries)
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is true")
	}
	return nil
}

// Helper functions for reading environment variables

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

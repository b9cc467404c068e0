package resilience

import (
	"time"

	"github.com/safetalk/safetalk-resilience/pkg/config"
)

// Presets for common workloads. Each returns a RecoveryConfig tuned for
// one class of dependency; callers adjust fields after the fact if
// needed.

// DefaultConfig returns the general-purpose recovery configuration
func DefaultConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxRetries:              3,
		BackoffMultiplier:       2.0,
		InitialDelay:            1 * time.Second,
		MaxDelay:                30 * time.Second,
		CircuitBreakingEnabled:  true,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  60 * time.Second,
		MaxConcurrentRecoveries: 10,
		MetricsEnabled:          true,
	}
}

// AIProviderConfig is tuned for conversational AI providers, with
// fewer retries and a fast-tripping breaker.
func AIProviderConfig() config.RecoveryConfig {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxDelay = 10 * time.Second
	cfg.BreakerFailureThreshold = 3
	cfg.BreakerRecoveryTimeout = 30 * time.Second
	return cfg
}

// DatabaseConfig is tuned for database access, with patient retries
// and a slower breaker.
func DatabaseConfig() config.RecoveryConfig {
	cfg := DefaultConfig()
	cfg.MaxRetries = 5
	cfg.InitialDelay = 1 * time.Second
	cfg.MaxDelay = 60 * time.Second
	cfg.BreakerFailureThreshold = 10
	cfg.BreakerRecoveryTimeout = 120 * time.Second
	return cfg
}

// NotificationConfig is tuned for outbound notification delivery, with
// generous retries and no breaker.
func NotificationConfig() config.RecoveryConfig {
	cfg := DefaultConfig()
	cfg.MaxRetries = 10
	cfg.InitialDelay = 5 * time.Second
	cfg.MaxDelay = 60 * time.Second
	cfg.CircuitBreakingEnabled = false
	return cfg
}

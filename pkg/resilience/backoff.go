package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy selects how retry delays grow between attempts
type BackoffStrategy string

const (
	// BackoffExponential grows the delay by the multiplier each attempt
	BackoffExponential BackoffStrategy = "exponential"
	// BackoffLinear grows the delay by the initial delay each attempt
	BackoffLinear BackoffStrategy = "linear"
	// BackoffFixed uses the initial delay for every attempt
	BackoffFixed BackoffStrategy = "fixed"
	// BackoffImmediate retries without any delay
	BackoffImmediate BackoffStrategy = "immediate"
	// BackoffNone disables waiting entirely
	BackoffNone BackoffStrategy = "none"
)

// backoffCeiling is the hard upper bound on any computed delay,
// whatever the configured maximum says.
const backoffCeiling = 60 * time.Second

// BackoffCalculator computes retry delays. Jitter spreads delays
// uniformly over [0.5, 1.0) of the computed value so synchronized
// clients do not retry in lockstep.
type BackoffCalculator struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// NewBackoffCalculator creates a calculator with jitter enabled.
// Non-positive arguments fall back to 1s initial, 30s max, 2x multiplier.
func NewBackoffCalculator(initialDelay, maxDelay time.Duration, multiplier float64) *BackoffCalculator {
	if initialDelay <= 0 {
		initialDelay = 1 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if multiplier <= 1.0 {
		multiplier = 2.0
	}

	return &BackoffCalculator{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		Jitter:       true,
	}
}

// Delay returns the wait before retry attempt number attempt (zero-based).
func (b *BackoffCalculator) Delay(attempt int, strategy BackoffStrategy) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	switch strategy {
	case BackoffNone, BackoffImmediate:
		return 0
	case BackoffLinear:
		delay = time.Duration(int64(b.InitialDelay) * int64(attempt+1))
	case BackoffFixed:
		delay = b.InitialDelay
	default: // BackoffExponential
		scaled := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))
		if scaled > float64(b.MaxDelay) {
			delay = b.MaxDelay
		} else {
			delay = time.Duration(scaled)
		}
	}

	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}

	if b.Jitter && delay > 0 {
		delay = time.Duration(float64(delay) * (0.5 + 0.5*rand.Float64()))
	}

	if delay > backoffCeiling {
		delay = backoffCeiling
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

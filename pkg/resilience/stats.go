package resilience

import (
	"sync"
	"time"
)

// Statistics is a point-in-time snapshot of recovery activity
type Statistics struct {
	TotalErrors           int64            `json:"total_errors"`
	SuccessfulRecoveries  int64            `json:"successful_recoveries"`
	FailedRecoveries      int64            `json:"failed_recoveries"`
	CircuitBreakerTrips   int64            `json:"circuit_breaker_trips"`
	ErrorsByType          map[string]int64 `json:"errors_by_type"`
	RecoveriesByStrategy  map[string]int64 `json:"recoveries_by_strategy"`
	AverageRecoveryTimeMs float64          `json:"average_recovery_time_ms"`
}

// RecoveryStatistics accumulates recovery counters. All methods are
// safe for concurrent use.
type RecoveryStatistics struct {
	mu                   sync.Mutex
	totalErrors          int64
	successfulRecoveries int64
	failedRecoveries     int64
	circuitBreakerTrips  int64
	errorsByType         map[string]int64
	recoveriesByStrategy map[string]int64
	recoveryCount        int64
	averageRecoveryMs    float64
}

// NewRecoveryStatistics creates an empty statistics accumulator
func NewRecoveryStatistics() *RecoveryStatistics {
	return &RecoveryStatistics{
		errorsByType:         make(map[string]int64),
		recoveriesByStrategy: make(map[string]int64),
	}
}

// RecordError counts a classified error by its concrete type name
func (s *RecoveryStatistics) RecordError(errType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalErrors++
	s.errorsByType[errType]++
}

// RecordRecovery counts a recovery attempt outcome and folds its
// duration into the running average.
func (s *RecoveryStatistics) RecordRecovery(strategy RecoveryStrategy, success bool, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		s.successfulRecoveries++
	} else {
		s.failedRecoveries++
	}
	s.recoveriesByStrategy[string(strategy)]++

	s.recoveryCount++
	ms := float64(duration) / float64(time.Millisecond)
	s.averageRecoveryMs += (ms - s.averageRecoveryMs) / float64(s.recoveryCount)
}

// RecordTrip counts a circuit breaker opening
func (s *RecoveryStatistics) RecordTrip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.circuitBreakerTrips++
}

// Snapshot returns a copy of the current counters
func (s *RecoveryStatistics) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]int64, len(s.errorsByType))
	for k, v := range s.errorsByType {
		byType[k] = v
	}
	byStrategy := make(map[string]int64, len(s.recoveriesByStrategy))
	for k, v := range s.recoveriesByStrategy {
		byStrategy[k] = v
	}

	return Statistics{
		TotalErrors:           s.totalErrors,
		SuccessfulRecoveries:  s.successfulRecoveries,
		FailedRecoveries:      s.failedRecoveries,
		CircuitBreakerTrips:   s.circuitBreakerTrips,
		ErrorsByType:          byType,
		RecoveriesByStrategy:  byStrategy,
		AverageRecoveryTimeMs: s.averageRecoveryMs,
	}
}

// Reset clears all counters
func (s *RecoveryStatistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalErrors = 0
	s.successfulRecoveries = 0
	s.failedRecoveries = 0
	s.circuitBreakerTrips = 0
	s.errorsByType = make(map[string]int64)
	s.recoveriesByStrategy = make(map[string]int64)
	s.recoveryCount = 0
	s.averageRecoveryMs = 0
}

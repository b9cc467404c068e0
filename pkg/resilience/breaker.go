package resilience

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/safetalk/safetalk-resilience/pkg/logging"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit admits a single probe request
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func stateFromString(value string) CircuitState {
	switch value {
	case "open":
		return StateOpen
	case "half_open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// BreakerStatus is a read-only projection of a circuit breaker
type BreakerStatus struct {
	Key              string        `json:"key"`
	State            string        `json:"state"`
	FailureCount     int64         `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	LastFailureTime  time.Time     `json:"last_failure_time,omitempty"`
	LastSuccessTime  time.Time     `json:"last_success_time,omitempty"`
}

// CircuitBreaker is a per-resource state machine that tracks consecutive
// failures and gates whether operations against that resource may
// proceed. State lives in a StateStore so that a Redis-backed store
// shares one breaker across processes; with the in-memory store the
// breaker is process-local.
//
// Half-open is a first-class persisted state: when an open breaker's
// cooldown elapses, exactly one caller wins the probe token and is
// admitted; everyone else keeps being rejected until the probe
// resolves or its token expires.
//
// Breakers never fail a caller because of their own storage problems: a
// store error logs and falls open (allow), never closed.
type CircuitBreaker struct {
	key              string
	mu               sync.Mutex
	failureThreshold int
	recoveryTimeout  time.Duration
	store            StateStore
	logger           *logging.Logger
	onTrip           func(key string)
	onStateChange    func(key string, state CircuitState)
}

// NewCircuitBreaker creates a breaker for the given resource key.
// A nil store defaults to a private in-memory store.
func NewCircuitBreaker(key string, failureThreshold int, recoveryTimeout time.Duration, store StateStore) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	if store == nil {
		store = NewMemoryStore()
	}

	return &CircuitBreaker{
		key:              key,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		store:            store,
		logger:           logging.GetLogger(),
	}
}

// Key returns the resource key the breaker guards
func (cb *CircuitBreaker) Key() string {
	return cb.key
}

// Configure updates the breaker's threshold and recovery timeout.
// Used by the circuit_breaker recovery strategy; it does not trip the
// breaker.
func (cb *CircuitBreaker) Configure(failureThreshold int, recoveryTimeout time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failureThreshold > 0 {
		cb.failureThreshold = failureThreshold
	}
	if recoveryTimeout > 0 {
		cb.recoveryTimeout = recoveryTimeout
	}
}

// AllowRequest reports whether a request against the resource may
// proceed. For an open breaker whose cooldown has elapsed it admits a
// single probe, transitioning the breaker to half-open.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, err := cb.readState(ctx)
	if err != nil {
		cb.logger.Warn("Circuit breaker state read failed, allowing request",
			"key", cb.key,
			"error", err.Error(),
		)
		return true
	}

	switch state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// A live probe token means a probe is in flight. An expired
		// token means the prober never reported back, so the slot
		// reopens and the next caller becomes the probe.
		return cb.acquireProbe(ctx)
	default: // StateOpen
		lastFailure, err := cb.readTime(ctx, cb.storeKey("last_failure"))
		if err != nil {
			cb.logger.Warn("Circuit breaker timestamp read failed, allowing request",
				"key", cb.key,
				"error", err.Error(),
			)
			return true
		}
		if time.Since(lastFailure) <= cb.recoveryTimeout {
			return false
		}

		// Cooldown elapsed, race for the single probe slot.
		if !cb.acquireProbe(ctx) {
			return false
		}

		cb.writeState(ctx, StateHalfOpen)
		cb.logger.Info("Circuit breaker probing",
			"key", cb.key,
			"cooldown", cb.recoveryTimeout.String(),
		)
		return true
	}
}

// acquireProbe races for the single probe token. The token expires
// with the recovery timeout so an abandoned probe frees the slot
// instead of wedging the breaker. A store error falls open.
func (cb *CircuitBreaker) acquireProbe(ctx context.Context) bool {
	acquired, err := cb.store.SetNX(ctx, cb.storeKey("probe"), "1", cb.recoveryTimeout)
	if err != nil {
		cb.logger.Warn("Circuit breaker probe acquisition failed, allowing request",
			"key", cb.key,
			"error", err.Error(),
		)
		return true
	}
	return acquired
}

// RecordSuccess resets the failure count and closes the breaker
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prev, err := cb.readState(ctx)
	if err != nil {
		cb.logger.Warn("Circuit breaker state read failed on success",
			"key", cb.key,
			"error", err.Error(),
		)
	}

	cb.writeState(ctx, StateClosed)
	if err := cb.store.Delete(ctx, cb.storeKey("failures"), cb.storeKey("probe")); err != nil {
		cb.logger.Warn("Circuit breaker failure count reset failed",
			"key", cb.key,
			"error", err.Error(),
		)
	}
	cb.writeTime(ctx, cb.storeKey("last_success"), time.Now())

	if prev != StateClosed {
		cb.logger.Info("Circuit breaker closed",
			"key", cb.key,
			"previous_state", prev.String(),
		)
		if cb.onStateChange != nil {
			cb.onStateChange(cb.key, StateClosed)
		}
	}
}

// RecordFailure increments the failure count and opens the breaker when
// the threshold is reached. A failed half-open probe reopens the breaker
// and resets the cooldown window.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prev, err := cb.readState(ctx)
	if err != nil {
		cb.logger.Warn("Circuit breaker state read failed on failure",
			"key", cb.key,
			"error", err.Error(),
		)
		return
	}

	count, err := cb.store.Increment(ctx, cb.storeKey("failures"))
	if err != nil {
		cb.logger.Warn("Circuit breaker failure count update failed",
			"key", cb.key,
			"error", err.Error(),
		)
		return
	}
	cb.writeTime(ctx, cb.storeKey("last_failure"), time.Now())

	switch {
	case prev == StateHalfOpen:
		// Failed probe: back to open, restart the cooldown.
		cb.writeState(ctx, StateOpen)
		if err := cb.store.Delete(ctx, cb.storeKey("probe")); err != nil {
			cb.logger.Warn("Circuit breaker probe release failed",
				"key", cb.key,
				"error", err.Error(),
			)
		}
		cb.logger.Warn("Circuit breaker probe failed, reopening",
			"key", cb.key,
			"failure_count", count,
		)
		if cb.onStateChange != nil {
			cb.onStateChange(cb.key, StateOpen)
		}
	case prev == StateClosed && count >= int64(cb.failureThreshold):
		cb.writeState(ctx, StateOpen)
		cb.logger.Warn("Circuit breaker opened",
			"key", cb.key,
			"failure_count", count,
			"failure_threshold", cb.failureThreshold,
		)
		if cb.onStateChange != nil {
			cb.onStateChange(cb.key, StateOpen)
		}
		if cb.onTrip != nil {
			cb.onTrip(cb.key)
		}
	}
}

// Status returns a read-only snapshot of the breaker. It never mutates
// state.
func (cb *CircuitBreaker) Status(ctx context.Context) BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := BreakerStatus{
		Key:              cb.key,
		FailureThreshold: cb.failureThreshold,
		RecoveryTimeout:  cb.recoveryTimeout,
	}

	state, err := cb.readState(ctx)
	if err != nil {
		status.State = "unknown"
		return status
	}
	status.State = state.String()

	if raw, ok, err := cb.store.Get(ctx, cb.storeKey("failures")); err == nil && ok {
		if count, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			status.FailureCount = count
		}
	}
	if t, err := cb.readTime(ctx, cb.storeKey("last_failure")); err == nil {
		status.LastFailureTime = t
	}
	if t, err := cb.readTime(ctx, cb.storeKey("last_success")); err == nil {
		status.LastSuccessTime = t
	}

	return status
}

func (cb *CircuitBreaker) storeKey(field string) string {
	return cb.key + ":" + field
}

func (cb *CircuitBreaker) readState(ctx context.Context) (CircuitState, error) {
	raw, ok, err := cb.store.Get(ctx, cb.storeKey("state"))
	if err != nil {
		return StateClosed, err
	}
	if !ok {
		return StateClosed, nil
	}
	return stateFromString(raw), nil
}

func (cb *CircuitBreaker) writeState(ctx context.Context, state CircuitState) {
	if err := cb.store.Set(ctx, cb.storeKey("state"), state.String(), 0); err != nil {
		cb.logger.Warn("Circuit breaker state write failed",
			"key", cb.key,
			"state", state.String(),
			"error", err.Error(),
		)
	}
}

func (cb *CircuitBreaker) readTime(ctx context.Context, key string) (time.Time, error) {
	raw, ok, err := cb.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, nil
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos), nil
}

func (cb *CircuitBreaker) writeTime(ctx context.Context, key string, t time.Time) {
	if err := cb.store.Set(ctx, key, strconv.FormatInt(t.UnixNano(), 10), 0); err != nil {
		cb.logger.Warn("Circuit breaker timestamp write failed",
			"key", cb.key,
			"error", err.Error(),
		)
	}
}

// CircuitOpenError is returned when a request is rejected by an open
// circuit breaker, so callers can tell the breaker apart from the
// wrapped operation's own failures.
type CircuitOpenError struct {
	Key string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("service unavailable: circuit breaker for '%s' is open", e.Key)
}

// IsCircuitOpen checks if an error is a circuit breaker rejection
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}

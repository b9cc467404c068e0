package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/safetalk/safetalk-resilience/pkg/config"
	apperrors "github.com/safetalk/safetalk-resilience/pkg/errors"
	"github.com/safetalk/safetalk-resilience/pkg/logging"
	"github.com/sirupsen/logrus"
)

// ErrorContext carries everything known about a failure while it moves
// through classification and recovery.
type ErrorContext struct {
	Err           error
	ResourceKey   string
	Operation     string
	AttemptCount  int
	LastAttempt   time.Time
	CorrelationID string
	Category      ErrorCategory
	Severity      ErrorSeverity
	Metadata      map[string]interface{}
}

// MetricsSink receives recovery telemetry. The prometheus-backed
// implementation lives in pkg/metrics; a nil sink is replaced with a
// no-op so the orchestrator never checks for nil at call sites.
type MetricsSink interface {
	RecordError(category, severity string)
	RecordRecovery(strategy, outcome string, duration time.Duration)
	RecordBreakerTrip(resourceKey string)
	SetBreakerState(resourceKey, state string)
}

type noopMetrics struct{}

func (noopMetrics) RecordError(category, severity string)                    {}
func (noopMetrics) RecordRecovery(strategy, outcome string, d time.Duration) {}
func (noopMetrics) RecordBreakerTrip(resourceKey string)                     {}
func (noopMetrics) SetBreakerState(resourceKey, state string)                {}

// Orchestrator classifies failures, looks up the matching recovery
// rule, runs the rule's strategy, and manages per-resource circuit
// breakers. One orchestrator serves a whole process; all methods are
// safe for concurrent use.
type Orchestrator struct {
	config     config.RecoveryConfig
	classifier *Classifier
	rules      *RuleTable
	events     *EventBus
	stats      *RecoveryStatistics
	metrics    MetricsSink
	store      StateStore
	logger     *logging.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	// sem bounds how many strategy handlers run at once. Classification
	// and breaker checks are not gated, only the handlers.
	sem chan struct{}
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithStateStore sets the backend for circuit-breaker state
func WithStateStore(store StateStore) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithMetricsSink sets the telemetry sink
func WithMetricsSink(sink MetricsSink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.metrics = sink
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRuleTable replaces the default rule table
func WithRuleTable(rules *RuleTable) Option {
	return func(o *Orchestrator) {
		if rules != nil {
			o.rules = rules
		}
	}
}

// WithClassifier replaces the default classifier
func WithClassifier(classifier *Classifier) Option {
	return func(o *Orchestrator) {
		if classifier != nil {
			o.classifier = classifier
		}
	}
}

// New creates an orchestrator from the given recovery configuration.
// Zero-valued config fields are filled with the standard defaults.
func New(cfg config.RecoveryConfig, opts ...Option) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffMultiplier <= 1.0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerRecoveryTimeout <= 0 {
		cfg.BreakerRecoveryTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrentRecoveries <= 0 {
		cfg.MaxConcurrentRecoveries = 10
	}

	o := &Orchestrator{
		config:     cfg,
		classifier: NewClassifier(),
		rules:      NewRuleTable(),
		events:     NewEventBus(),
		stats:      NewRecoveryStatistics(),
		metrics:    noopMetrics{},
		store:      NewMemoryStore(),
		logger:     logging.GetLogger(),
		breakers:   make(map[string]*CircuitBreaker),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.sem = make(chan struct{}, cfg.MaxConcurrentRecoveries)
	return o
}

// RecoverRequest identifies the failed operation for Recover
type RecoverRequest struct {
	ResourceKey string
	Operation   string
	Metadata    map[string]interface{}
}

// Recover classifies err, finds its recovery rule, and runs the rule's
// strategy once. It reports whether the error is considered recovered.
// A nil error is trivially recovered.
func (o *Orchestrator) Recover(ctx context.Context, err error, req RecoverRequest) bool {
	if err == nil {
		return true
	}

	recovered, _ := o.recover(ctx, err, req, 0)
	return recovered
}

// recover is the single-attempt recovery path shared by Recover and
// RecoverWithRetry. The returned rule is nil when the circuit breaker
// rejected the attempt before any rule was consulted.
func (o *Orchestrator) recover(ctx context.Context, err error, req RecoverRequest, attempt int) (bool, *RecoveryRule) {
	start := time.Now()

	category, severity := o.classifier.Classify(err)

	correlationID := logging.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
	}

	ec := &ErrorContext{
		Err:           err,
		ResourceKey:   req.ResourceKey,
		Operation:     req.Operation,
		AttemptCount:  attempt,
		LastAttempt:   start,
		CorrelationID: correlationID,
		Category:      category,
		Severity:      severity,
		Metadata:      req.Metadata,
	}

	o.stats.RecordError(fmt.Sprintf("%T", err))
	o.metrics.RecordError(string(category), severity.String())

	o.logger.LogError(ctx, err, "Recovering from error", logrus.Fields{
		"category":       string(category),
		"severity":       severity.String(),
		"resource_key":   req.ResourceKey,
		"operation":      req.Operation,
		"attempt":        attempt,
		"correlation_id": correlationID,
	})

	if o.config.CircuitBreakingEnabled {
		breaker := o.breakerFor(gateKey(req.ResourceKey))
		if !breaker.AllowRequest(ctx) {
			o.events.Emit(ctx, EventCircuitBlocked, ec)
			o.stats.RecordRecovery(StrategyCircuitBreaker, false, time.Since(start))
			o.metrics.RecordRecovery(string(StrategyCircuitBreaker), "blocked", time.Since(start))
			return false, nil
		}
	}

	rule := o.rules.Find(err)

	if !o.acquire(ctx) {
		return false, rule
	}
	defer o.release()

	recovered := o.dispatch(ctx, ec, rule)

	duration := time.Since(start)
	o.stats.RecordRecovery(rule.Strategy, recovered, duration)
	if recovered {
		o.metrics.RecordRecovery(string(rule.Strategy), "recovered", duration)
		o.events.Emit(ctx, EventRecoverySucceeded, ec)
	} else {
		o.metrics.RecordRecovery(string(rule.Strategy), "failed", duration)
		o.events.Emit(ctx, EventRecoveryFailed, ec)
	}

	return recovered, rule
}

// dispatch runs the rule's strategy handler. A panicking handler or
// fallback counts as not recovered, never as a crash.
func (o *Orchestrator) dispatch(ctx context.Context, ec *ErrorContext, rule *RecoveryRule) (recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Recovery handler panicked",
				"rule", rule.Name,
				"strategy", string(rule.Strategy),
				"panic", r,
			)
			recovered = false
		}
	}()

	if rule.CustomHandler != nil {
		ok, err := rule.CustomHandler(ctx, ec, rule)
		if err != nil {
			o.logger.Warn("Custom recovery handler failed",
				"rule", rule.Name,
				"error", err.Error(),
			)
			return false
		}
		return ok
	}

	switch rule.Strategy {
	case StrategyRetry:
		o.events.Emit(ctx, EventRetryInitiated, ec)
		return true

	case StrategyReconnect:
		if ec.ResourceKey == "" {
			o.logger.Warn("Reconnect strategy requires a resource key",
				"rule", rule.Name,
			)
			return false
		}
		o.events.Emit(ctx, EventReconnectRequested, ec)
		delay := rule.InitialDelay
		if delay <= 0 {
			delay = o.config.InitialDelay
		}
		if !sleepContext(ctx, delay) {
			return false
		}
		return true

	case StrategyCircuitBreaker:
		key := gateKey(ec.ResourceKey)
		threshold := rule.BreakerThreshold
		if threshold <= 0 {
			threshold = o.config.BreakerFailureThreshold
		}
		timeout := rule.BreakerTimeout
		if timeout <= 0 {
			timeout = o.config.BreakerRecoveryTimeout
		}
		o.breakerFor(key).Configure(threshold, timeout)
		o.events.Emit(ctx, EventCircuitConfigured, ec)
		return true

	case StrategyFallback:
		if rule.FallbackAction == nil {
			o.logger.Warn("Fallback strategy has no fallback action",
				"rule", rule.Name,
			)
			return false
		}
		if err := rule.FallbackAction(ctx, ec); err != nil {
			o.logger.Warn("Fallback action failed",
				"rule", rule.Name,
				"error", err.Error(),
			)
			return false
		}
		return true

	case StrategyEscalate:
		o.logger.LogError(ctx, ec.Err, "Error escalated", logrus.Fields{
			"rule":           rule.Name,
			"category":       string(ec.Category),
			"severity":       ec.Severity.String(),
			"resource_key":   ec.ResourceKey,
			"correlation_id": ec.CorrelationID,
		})
		o.events.Emit(ctx, EventErrorEscalated, ec)
		return false

	case StrategyIgnore:
		return true

	default:
		o.logger.Warn("Unknown recovery strategy",
			"rule", rule.Name,
			"strategy", string(rule.Strategy),
		)
		return false
	}
}

// RetryRequest configures RecoverWithRetry.
//
// MaxRetries zero inherits the matched rule's retry budget, falling
// back to the configured default; a negative value disables retries
// (single attempt). BackoffMultiplier above 1 overrides both the rule
// and the configured default.
type RetryRequest struct {
	ResourceKey       string
	Operation         string
	MaxRetries        int
	BackoffMultiplier float64
	Metadata          map[string]interface{}
}

// RecoverWithRetry runs operation until it succeeds, the retry budget
// is exhausted, the resource's circuit breaker opens, the matched rule
// escalates, or ctx is done. On success it returns the operation's
// result; otherwise the last error observed.
func (o *Orchestrator) RecoverWithRetry(ctx context.Context, operation func(ctx context.Context) (interface{}, error), req RetryRequest) (interface{}, error) {
	maxRetries := o.config.MaxRetries
	budgetFixed := req.MaxRetries != 0
	switch {
	case req.MaxRetries > 0:
		maxRetries = req.MaxRetries
	case req.MaxRetries < 0:
		maxRetries = 0
	}

	var breaker *CircuitBreaker
	if o.config.CircuitBreakingEnabled {
		breaker = o.breakerFor(gateKey(req.ResourceKey))
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if breaker != nil && !breaker.AllowRequest(ctx) {
			if attempt > 0 {
				o.logger.Warn("Retry aborted by open circuit breaker",
					"resource_key", breaker.Key(),
					"attempt", attempt,
				)
			}
			return nil, &CircuitOpenError{Key: breaker.Key()}
		}

		result, err := operation(ctx)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess(ctx)
			}
			if attempt > 0 {
				o.logger.Info("Operation succeeded after retry",
					"resource_key", req.ResourceKey,
					"operation", req.Operation,
					"attempt", attempt,
				)
			}
			return result, nil
		}
		lastErr = err

		if breaker != nil {
			breaker.RecordFailure(ctx)
		}

		if attempt == maxRetries {
			break
		}

		_, rule := o.recover(ctx, err, RecoverRequest{
			ResourceKey: req.ResourceKey,
			Operation:   req.Operation,
			Metadata:    req.Metadata,
		}, attempt)
		if rule != nil && rule.Strategy == StrategyEscalate {
			break
		}

		// When the caller left the budget open, the first matched rule
		// pins it.
		if !budgetFixed && rule != nil && rule.MaxRetries > 0 {
			maxRetries = rule.MaxRetries
			budgetFixed = true
			if attempt >= maxRetries {
				break
			}
		}

		strategy := BackoffExponential
		if rule != nil && rule.Backoff != "" {
			strategy = rule.Backoff
		}
		if !sleepContext(ctx, o.backoffFor(rule, req.BackoffMultiplier).Delay(attempt, strategy)) {
			return nil, lastErr
		}
	}

	if lastErr == nil {
		lastErr = apperrors.NewSystemError("operation failed without reporting an error")
	}
	return nil, lastErr
}

// Scoped runs fn and feeds any error through Recover. A recovered error
// is swallowed; an unrecovered one is returned unchanged.
func (o *Orchestrator) Scoped(ctx context.Context, req RecoverRequest, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if o.Recover(ctx, err, req) {
		return nil
	}
	return err
}

// RegisterRule adds a custom recovery rule ahead of the defaults
func (o *Orchestrator) RegisterRule(rule *RecoveryRule) {
	o.rules.Register(rule)
}

// Events returns the orchestrator's event bus for subscriptions
func (o *Orchestrator) Events() *EventBus {
	return o.events
}

// Stats returns a snapshot of recovery statistics
func (o *Orchestrator) Stats() Statistics {
	return o.stats.Snapshot()
}

// ResetStats clears accumulated statistics
func (o *Orchestrator) ResetStats() {
	o.stats.Reset()
}

// BreakerStatuses returns the status of every known breaker, sorted by
// resource key.
func (o *Orchestrator) BreakerStatuses(ctx context.Context) []BreakerStatus {
	o.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(o.breakers))
	for _, b := range o.breakers {
		breakers = append(breakers, b)
	}
	o.mu.Unlock()

	statuses := make([]BreakerStatus, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.Status(ctx))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Key < statuses[j].Key
	})
	return statuses
}

// gateKey maps an empty resource key onto the shared global breaker
func gateKey(resourceKey string) string {
	if resourceKey == "" {
		return "global"
	}
	return resourceKey
}

// backoffFor builds the delay calculator for one retry iteration. The
// matched rule's bounds override the configured defaults; an explicit
// per-call multiplier overrides both.
func (o *Orchestrator) backoffFor(rule *RecoveryRule, callMultiplier float64) *BackoffCalculator {
	initial := o.config.InitialDelay
	maxDelay := o.config.MaxDelay
	multiplier := o.config.BackoffMultiplier
	if rule != nil {
		if rule.InitialDelay > 0 {
			initial = rule.InitialDelay
		}
		if rule.MaxDelay > 0 {
			maxDelay = rule.MaxDelay
		}
		if rule.BackoffMultiplier > 1.0 {
			multiplier = rule.BackoffMultiplier
		}
	}
	if callMultiplier > 1.0 {
		multiplier = callMultiplier
	}
	return NewBackoffCalculator(initial, maxDelay, multiplier)
}

// breakerFor returns the breaker for key, creating it on first use
func (o *Orchestrator) breakerFor(key string) *CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if breaker, ok := o.breakers[key]; ok {
		return breaker
	}

	breaker := NewCircuitBreaker(key, o.config.BreakerFailureThreshold, o.config.BreakerRecoveryTimeout, o.store)
	breaker.logger = o.logger
	breaker.onTrip = func(key string) {
		o.stats.RecordTrip()
		o.metrics.RecordBreakerTrip(key)
		o.events.Emit(context.Background(), EventCircuitOpened, &ErrorContext{
			ResourceKey:   key,
			Category:      CategorySystem,
			Severity:      SeverityHigh,
			CorrelationID: logging.NewCorrelationID(),
			LastAttempt:   time.Now(),
		})
	}
	breaker.onStateChange = func(key string, state CircuitState) {
		o.metrics.SetBreakerState(key, state.String())
	}
	o.breakers[key] = breaker
	return breaker
}

// acquire takes a concurrency slot, giving up when ctx is done
func (o *Orchestrator) acquire(ctx context.Context) bool {
	select {
	case o.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) release() {
	<-o.sem
}

// sleepContext waits for d or until ctx is done, reporting whether the
// full wait completed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

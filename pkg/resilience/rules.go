package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/safetalk/safetalk-resilience/pkg/errors"
)

// RecoveryStrategy names the action taken for a matched error
type RecoveryStrategy string

const (
	// StrategyRetry signals the caller to retry with backoff
	StrategyRetry RecoveryStrategy = "retry"
	// StrategyReconnect signals that the connection should be rebuilt
	StrategyReconnect RecoveryStrategy = "reconnect"
	// StrategyCircuitBreaker configures a breaker for the resource
	StrategyCircuitBreaker RecoveryStrategy = "circuit_breaker"
	// StrategyFallback runs an alternative code path
	StrategyFallback RecoveryStrategy = "fallback"
	// StrategyEscalate fails fast and surfaces the error
	StrategyEscalate RecoveryStrategy = "escalate"
	// StrategyIgnore treats the error as recovered without action
	StrategyIgnore RecoveryStrategy = "ignore"
)

// FallbackAction is the alternative code path run by the fallback
// strategy. A nil error means the fallback substituted successfully.
type FallbackAction func(ctx context.Context, ec *ErrorContext) error

// CustomHandler overrides the built-in strategy dispatch for a rule.
// It returns whether the error is considered recovered.
type CustomHandler func(ctx context.Context, ec *ErrorContext, rule *RecoveryRule) (bool, error)

// RecoveryRule binds an error predicate to a recovery strategy and the
// parameters that strategy needs. Zero-valued parameters inherit the
// orchestrator's configured defaults at dispatch time.
type RecoveryRule struct {
	Name              string
	Matches           func(err error) bool
	Strategy          RecoveryStrategy
	MaxRetries        int
	BackoffMultiplier float64
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BreakerThreshold  int
	BreakerTimeout    time.Duration
	Severity          ErrorSeverity
	Backoff           BackoffStrategy
	FallbackAction    FallbackAction
	CustomHandler     CustomHandler
}

// RuleTable holds recovery rules in matching order. Custom rules are
// consulted before the defaults, most recently registered first, so a
// caller can always override built-in behavior.
type RuleTable struct {
	mu       sync.RWMutex
	custom   []*RecoveryRule
	defaults []*RecoveryRule
}

// NewRuleTable creates a table seeded with the default rules
func NewRuleTable() *RuleTable {
	return &RuleTable{
		defaults: DefaultRules(),
	}
}

// Register adds a custom rule ahead of all existing rules
func (t *RuleTable) Register(rule *RecoveryRule) {
	if rule == nil || rule.Matches == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.custom = append([]*RecoveryRule{rule}, t.custom...)
}

// Find returns the first rule matching err. Lookup is total: when no
// rule matches, a conservative single-retry fallback rule is returned,
// so every error has a defined recovery path.
func (t *RuleTable) Find(err error) *RecoveryRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rule := range t.custom {
		if rule.Matches(err) {
			return rule
		}
	}
	for _, rule := range t.defaults {
		if rule.Matches(err) {
			return rule
		}
	}
	return fallbackRule
}

// fallbackRule covers errors no configured rule claims
var fallbackRule = &RecoveryRule{
	Name:       "default-retry",
	Matches:    func(error) bool { return true },
	Strategy:   StrategyRetry,
	MaxRetries: 1,
	Severity:   SeverityLow,
	Backoff:    BackoffExponential,
}

// MatchErrorTypes matches AppErrors of any of the given types
func MatchErrorTypes(types ...apperrors.ErrorType) func(error) bool {
	return func(err error) bool {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			return false
		}
		for _, t := range types {
			if appErr.Type == t {
				return true
			}
		}
		return false
	}
}

// MatchCode matches AppErrors carrying the given code
func MatchCode(code string) func(error) bool {
	return func(err error) bool {
		return apperrors.GetCode(err) == code
	}
}

// MatchSubstrings matches errors whose message contains any of the
// given substrings, case-insensitively
func MatchSubstrings(substrings ...string) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		msg := strings.ToLower(err.Error())
		for _, s := range substrings {
			if strings.Contains(msg, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}

// matchAny combines predicates with OR
func matchAny(predicates ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, p := range predicates {
			if p(err) {
				return true
			}
		}
		return false
	}
}

// DefaultRules returns the built-in rule set in matching order.
// Safety and compliance escalations come first and must stay first:
// nothing below them may swallow a child-safety error.
func DefaultRules() []*RecoveryRule {
	return []*RecoveryRule{
		{
			Name: "child-safety-escalation",
			Matches: matchAny(
				MatchErrorTypes(apperrors.ErrorTypeChildSafety, apperrors.ErrorTypeCompliance),
				MatchSubstrings("child", "safety", "coppa"),
			),
			Strategy:   StrategyEscalate,
			MaxRetries: 0,
			Severity:   SeverityCritical,
			Backoff:    BackoffNone,
		},
		{
			Name:       "auth-escalation",
			Matches:    MatchErrorTypes(apperrors.ErrorTypeAuthentication, apperrors.ErrorTypeAuthorization),
			Strategy:   StrategyEscalate,
			MaxRetries: 0,
			Severity:   SeverityHigh,
			Backoff:    BackoffNone,
		},
		{
			Name:       "configuration-escalation",
			Matches:    MatchCode("CONFIGURATION_ERROR"),
			Strategy:   StrategyEscalate,
			MaxRetries: 0,
			Severity:   SeverityHigh,
			Backoff:    BackoffNone,
		},
		{
			Name: "database-retry",
			Matches: matchAny(
				MatchErrorTypes(apperrors.ErrorTypeDatabase),
				MatchSubstrings("database", "sql"),
			),
			Strategy:          StrategyRetry,
			MaxRetries:        3,
			BackoffMultiplier: 2.0,
			InitialDelay:      1 * time.Second,
			MaxDelay:          30 * time.Second,
			BreakerThreshold:  5,
			BreakerTimeout:    60 * time.Second,
			Severity:          SeverityHigh,
			Backoff:           BackoffExponential,
		},
		{
			Name: "network-retry",
			Matches: matchAny(
				MatchErrorTypes(apperrors.ErrorTypeNetwork, apperrors.ErrorTypeTimeout),
				MatchSubstrings("connection", "timeout", "unreachable"),
			),
			Strategy:          StrategyRetry,
			MaxRetries:        3,
			BackoffMultiplier: 2.0,
			InitialDelay:      1 * time.Second,
			MaxDelay:          30 * time.Second,
			Severity:          SeverityMedium,
			Backoff:           BackoffExponential,
		},
		{
			Name: "rate-limit-retry",
			Matches: matchAny(
				MatchErrorTypes(apperrors.ErrorTypeRateLimit),
				func(err error) bool {
					return MatchSubstrings("rate")(err) && MatchSubstrings("limit")(err)
				},
			),
			Strategy:          StrategyRetry,
			MaxRetries:        5,
			BackoffMultiplier: 2.0,
			InitialDelay:      5 * time.Second,
			MaxDelay:          60 * time.Second,
			Severity:          SeverityMedium,
			Backoff:           BackoffExponential,
		},
		{
			Name:             "provider-circuit-breaker",
			Matches:          MatchErrorTypes(apperrors.ErrorTypeExternalAPI),
			Strategy:         StrategyCircuitBreaker,
			MaxRetries:       2,
			BreakerThreshold: 3,
			BreakerTimeout:   30 * time.Second,
			Severity:         SeverityMedium,
			Backoff:          BackoffExponential,
		},
		{
			Name:       "validation-ignore",
			Matches:    MatchErrorTypes(apperrors.ErrorTypeValidation, apperrors.ErrorTypeNotFound),
			Strategy:   StrategyIgnore,
			MaxRetries: 0,
			Severity:   SeverityLow,
			Backoff:    BackoffNone,
		},
	}
}

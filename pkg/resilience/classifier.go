package resilience

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	apperrors "github.com/safetalk/safetalk-resilience/pkg/errors"
)

// ErrorCategory identifies the failure domain of a classified error.
// Categories feed reporting and audit weighting; control flow is driven
// by the recovery rule table, not the category.
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network"
	CategoryDatabase       ErrorCategory = "database"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryAuthorization  ErrorCategory = "authorization"
	CategoryRateLimit      ErrorCategory = "rate_limit"
	CategoryValidation     ErrorCategory = "validation"
	CategoryExternalAPI    ErrorCategory = "external_api"
	CategorySystem         ErrorCategory = "system"
	CategoryChildSafety    ErrorCategory = "child_safety"
	CategoryCompliance     ErrorCategory = "coppa_compliance"
)

// ErrorSeverity is an ordered severity level
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classifier maps an error to an (ErrorCategory, ErrorSeverity) pair.
//
// Classification runs in tiers: safety/compliance message checks first
// (these are fixed invariants and can never be downgraded), then the
// allow-listed AppError type table, then standard library error types,
// then text heuristics for errors raised by third-party SDKs we do not
// control, and finally a (system, medium) default. Classify is pure and
// never fails, whatever the input.
type Classifier struct{}

// NewClassifier creates a new classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the category and severity for the given error.
// A nil error classifies as (system, low).
func (c *Classifier) Classify(err error) (ErrorCategory, ErrorSeverity) {
	if err == nil {
		return CategorySystem, SeverityLow
	}

	msg := strings.ToLower(err.Error())

	// Safety and compliance matches are always critical, regardless of
	// the originating error type.
	if strings.Contains(msg, "child") || strings.Contains(msg, "safety") {
		return CategoryChildSafety, SeverityCritical
	}
	if strings.Contains(msg, "coppa") || strings.Contains(msg, "compliance") {
		return CategoryCompliance, SeverityCritical
	}

	// Allow-listed application error types.
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return classifyAppError(appErr)
	}

	// Standard library error types.
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork, SeverityMedium
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork, SeverityMedium
	}
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return CategoryValidation, SeverityLow
	}

	// Text heuristics, last resort for errors raised by SDKs we cannot
	// annotate.
	switch {
	case strings.Contains(msg, "database") || strings.Contains(msg, "sql"):
		if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") {
			return CategoryDatabase, SeverityHigh
		}
		return CategoryDatabase, SeverityMedium
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "unreachable"):
		return CategoryNetwork, SeverityMedium
	case strings.Contains(msg, "auth") || strings.Contains(msg, "permission"):
		return CategoryAuthentication, SeverityHigh
	case strings.Contains(msg, "rate") && strings.Contains(msg, "limit"):
		return CategoryRateLimit, SeverityMedium
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return CategoryValidation, SeverityLow
	}

	return CategorySystem, SeverityMedium
}

func classifyAppError(appErr *apperrors.AppError) (ErrorCategory, ErrorSeverity) {
	switch appErr.Type {
	case apperrors.ErrorTypeChildSafety:
		return CategoryChildSafety, SeverityCritical
	case apperrors.ErrorTypeCompliance:
		return CategoryCompliance, SeverityCritical
	case apperrors.ErrorTypeDatabase:
		if appErr.Code == "DATABASE_CONNECTION_ERROR" {
			return CategoryDatabase, SeverityHigh
		}
		return CategoryDatabase, SeverityMedium
	case apperrors.ErrorTypeNetwork, apperrors.ErrorTypeTimeout:
		return CategoryNetwork, SeverityMedium
	case apperrors.ErrorTypeAuthentication:
		return CategoryAuthentication, SeverityHigh
	case apperrors.ErrorTypeAuthorization:
		return CategoryAuthorization, SeverityHigh
	case apperrors.ErrorTypeRateLimit:
		return CategoryRateLimit, SeverityMedium
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeNotFound:
		return CategoryValidation, SeverityLow
	case apperrors.ErrorTypeExternalAPI:
		return CategoryExternalAPI, SeverityMedium
	default:
		return CategorySystem, SeverityMedium
	}
}

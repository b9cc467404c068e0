package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of a single component health check
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// Response is the aggregate health report
type Response struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Checks    []Check   `json:"checks"`
}

// Checker checks the health of a single component
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Service runs registered checkers and aggregates their results
type Service struct {
	mu       sync.RWMutex
	version  string
	timeout  time.Duration
	checkers []Checker
}

// NewService creates a health service
func NewService(version string) *Service {
	return &Service{
		version: version,
		timeout: 5 * time.Second,
	}
}

// Register adds a checker to the service
func (s *Service) Register(checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, checker)
}

// CheckHealth runs all registered checkers. The report is unhealthy if
// any single check fails.
func (s *Service) CheckHealth(ctx context.Context) Response {
	s.mu.RLock()
	checkers := make([]Checker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.RUnlock()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   s.version,
		Checks:    make([]Check, 0, len(checkers)),
	}

	for _, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		err := checker.Check(checkCtx)
		cancel()

		check := Check{
			Name:     checker.Name(),
			Status:   StatusHealthy,
			Duration: time.Since(start) / time.Millisecond,
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Error = err.Error()
			response.Status = StatusUnhealthy
		}
		response.Checks = append(response.Checks, check)
	}

	return response
}

// Handler returns a gin handler serving the health report. It responds
// 503 when any check fails.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response := s.CheckHealth(c.Request.Context())

		status := http.StatusOK
		if response.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, response)
	}
}

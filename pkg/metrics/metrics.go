package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all prometheus metrics for the service. It satisfies
// the orchestrator's MetricsSink interface. A nil *Metrics is valid and
// records nothing, so callers never have to guard metric calls.
type Metrics struct {
	// Recovery metrics
	ErrorsTotal      *prometheus.CounterVec
	RecoveriesTotal  *prometheus.CounterVec
	RecoveryDuration *prometheus.HistogramVec
	BreakerTrips     *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec

	// HTTP metrics for the ops endpoints
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string
	Subsystem string
	Enabled   bool
}

// breakerStateValues maps breaker state names onto gauge values
var breakerStateValues = map[string]float64{
	"closed":    0,
	"open":      1,
	"half_open": 2,
}

// NewMetrics creates and registers all metrics. Returns nil when
// metrics are disabled; the nil receiver methods make that safe.
func NewMetrics(config *Config) *Metrics {
	if config == nil || !config.Enabled {
		return nil
	}

	return &Metrics{
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors processed, by category and severity",
			},
			[]string{"category", "severity"},
		),
		RecoveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recoveries_total",
				Help:      "Total number of recovery attempts, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		RecoveryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_duration_seconds",
				Help:      "Time spent running recovery strategies",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		),
		BreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker openings, by resource key",
			},
			[]string{"resource_key"},
		),
		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"resource_key"},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordError records a classified error
func (m *Metrics) RecordError(category, severity string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(category, severity).Inc()
}

// RecordRecovery records a recovery attempt outcome and duration
func (m *Metrics) RecordRecovery(strategy, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RecoveriesTotal.WithLabelValues(strategy, outcome).Inc()
	m.RecoveryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordBreakerTrip records a circuit breaker opening
func (m *Metrics) RecordBreakerTrip(resourceKey string) {
	if m == nil {
		return
	}
	m.BreakerTrips.WithLabelValues(resourceKey).Inc()
}

// SetBreakerState records the current state of a circuit breaker
func (m *Metrics) SetBreakerState(resourceKey, state string) {
	if m == nil {
		return
	}
	value, ok := breakerStateValues[state]
	if !ok {
		return
	}
	m.BreakerState.WithLabelValues(resourceKey).Set(value)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// PrometheusMiddleware returns gin middleware that records HTTP metrics
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		m.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

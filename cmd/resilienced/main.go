package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/safetalk/safetalk-resilience/internal/breakerstore"
	"github.com/safetalk/safetalk-resilience/pkg/config"
	"github.com/safetalk/safetalk-resilience/pkg/health"
	"github.com/safetalk/safetalk-resilience/pkg/logging"
	"github.com/safetalk/safetalk-resilience/pkg/metrics"
	"github.com/safetalk/safetalk-resilience/pkg/resilience"
)

var version = "dev"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "safetalk-resilience",
		Version:     version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting resilience daemon",
		"version", version,
		"redis_enabled", cfg.Redis.Enabled,
	)

	healthService := health.NewService(version)

	opts := []resilience.Option{
		resilience.WithLogger(logger),
	}

	if cfg.Redis.Enabled {
		store, err := breakerstore.NewRedisStore(&cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to redis", "error", err.Error())
			os.Exit(1)
		}
		defer store.Close()

		opts = append(opts, resilience.WithStateStore(store))
		healthService.Register(health.CheckerFunc{
			CheckerName: "redis",
			Fn:          store.Health,
		})
		logger.Info("Using redis-backed circuit breaker state",
			"host", cfg.Redis.Host,
			"port", cfg.Redis.Port,
		)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(&metrics.Config{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: cfg.Metrics.Subsystem,
			Enabled:   true,
		})
		opts = append(opts, resilience.WithMetricsSink(m))
	}

	orch := resilience.New(cfg.Recovery, opts...)

	router := setupRouter(cfg, orch, healthService, m)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Ops server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Ops server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", "error", err.Error())
	}

	logger.Info("Shutdown complete")
}

func setupRouter(cfg *config.Config, orch *resilience.Orchestrator, healthService *health.Service, m *metrics.Metrics) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if m != nil {
		router.Use(m.PrometheusMiddleware())
	}

	router.GET("/healthz", healthService.Handler())
	if cfg.Metrics.Enabled {
		router.GET("/metrics", metrics.Handler())
	}

	router.GET("/breakers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"breakers": orch.BreakerStatuses(c.Request.Context()),
		})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Stats())
	})

	return router
}

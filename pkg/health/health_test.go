package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHealthAllHealthy(t *testing.T) {
	service := NewService("1.0.0")
	service.Register(CheckerFunc{
		CheckerName: "redis",
		Fn:          func(ctx context.Context) error { return nil },
	})

	response := service.CheckHealth(context.Background())

	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "1.0.0", response.Version)
	require.Len(t, response.Checks, 1)
	assert.Equal(t, "redis", response.Checks[0].Name)
	assert.Equal(t, StatusHealthy, response.Checks[0].Status)
}

func TestCheckHealthSingleFailureIsUnhealthy(t *testing.T) {
	service := NewService("1.0.0")
	service.Register(CheckerFunc{
		CheckerName: "redis",
		Fn:          func(ctx context.Context) error { return nil },
	})
	service.Register(CheckerFunc{
		CheckerName: "store",
		Fn:          func(ctx context.Context) error { return errors.New("connection refused") },
	})

	response := service.CheckHealth(context.Background())

	assert.Equal(t, StatusUnhealthy, response.Status)
	require.Len(t, response.Checks, 2)
	assert.Equal(t, "connection refused", response.Checks[1].Error)
}

func TestCheckHealthNoCheckers(t *testing.T) {
	service := NewService("1.0.0")

	response := service.CheckHealth(context.Background())

	assert.Equal(t, StatusHealthy, response.Status)
	assert.Empty(t, response.Checks)
}

func TestHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	service := NewService("1.0.0")
	router := gin.New()
	router.GET("/healthz", service.Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	service.Register(CheckerFunc{
		CheckerName: "store",
		Fn:          func(ctx context.Context) error { return errors.New("down") },
	})

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, StatusUnhealthy, response.Status)
}

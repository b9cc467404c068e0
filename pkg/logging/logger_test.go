package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := NewLogger(&Config{
		Level:       "debug",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "test",
	})
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	return logger, buf
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	_, err := NewLogger(&Config{Level: "verbose", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

func TestLoggerIncludesServiceFields(t *testing.T) {
	logger, buf := newTestLogger(t)

	logger.Info("hello", "key", "value")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "value", entry["key"])
}

func TestWithContextFields(t *testing.T) {
	logger, buf := newTestLogger(t)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = context.WithValue(ctx, ResourceKeyKey, "db")
	ctx = context.WithValue(ctx, OperationKey, "query")

	logger.WithContext(ctx).Info("recovering")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "db", entry["resource_key"])
	assert.Equal(t, "query", entry["operation"])
}

func TestLogErrorIncludesErrorType(t *testing.T) {
	logger, buf := newTestLogger(t)

	logger.LogError(context.Background(), errors.New("boom"), "operation failed", logrus.Fields{
		"attempt": 2,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "*errors.errorString", entry["error_type"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	id := NewCorrelationID()
	assert.NotEmpty(t, id)
	assert.NotEqual(t, id, NewCorrelationID())

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, GetCorrelationID(ctx))
	assert.Equal(t, "", GetCorrelationID(context.Background()))
}

func TestParseKeysAndValuesOddCount(t *testing.T) {
	fields := parseKeysAndValues([]interface{}{"a", 1, "dangling"})

	assert.Equal(t, logrus.Fields{"a": 1}, fields)
}

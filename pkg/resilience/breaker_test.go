package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:db", 3, 50*time.Millisecond, NewMemoryStore())

	assert.True(t, cb.AllowRequest(ctx))
	assert.Equal(t, "closed", cb.Status(ctx).State)
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:db", 3, time.Minute, NewMemoryStore())

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	assert.True(t, cb.AllowRequest(ctx), "below threshold should still allow")

	cb.RecordFailure(ctx)
	assert.False(t, cb.AllowRequest(ctx))
	assert.Equal(t, "open", cb.Status(ctx).State)
	assert.Equal(t, int64(3), cb.Status(ctx).FailureCount)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:db", 3, time.Minute, NewMemoryStore())

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	cb.RecordSuccess(ctx)

	// Two more failures must not reach the threshold of three.
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	assert.True(t, cb.AllowRequest(ctx))

	cb.RecordFailure(ctx)
	assert.False(t, cb.AllowRequest(ctx))
}

func TestCircuitBreakerAdmitsSingleProbe(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:provider", 1, 20*time.Millisecond, NewMemoryStore())

	cb.RecordFailure(ctx)
	require.False(t, cb.AllowRequest(ctx))

	time.Sleep(30 * time.Millisecond)

	// First caller after the cooldown wins the probe slot.
	assert.True(t, cb.AllowRequest(ctx))
	assert.Equal(t, "half_open", cb.Status(ctx).State)

	// Everyone else is held back while the probe is in flight.
	assert.False(t, cb.AllowRequest(ctx))
	assert.False(t, cb.AllowRequest(ctx))
}

func TestCircuitBreakerProbeSuccessCloses(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:provider", 1, 20*time.Millisecond, NewMemoryStore())

	cb.RecordFailure(ctx)
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.AllowRequest(ctx))

	cb.RecordSuccess(ctx)

	assert.Equal(t, "closed", cb.Status(ctx).State)
	assert.True(t, cb.AllowRequest(ctx))
	assert.Equal(t, int64(0), cb.Status(ctx).FailureCount)
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:provider", 1, 30*time.Millisecond, NewMemoryStore())

	cb.RecordFailure(ctx)
	time.Sleep(40 * time.Millisecond)
	require.True(t, cb.AllowRequest(ctx))

	cb.RecordFailure(ctx)

	// Reopened with a fresh cooldown window.
	assert.Equal(t, "open", cb.Status(ctx).State)
	assert.False(t, cb.AllowRequest(ctx))

	// After the new cooldown a probe is allowed again.
	time.Sleep(40 * time.Millisecond)
	assert.True(t, cb.AllowRequest(ctx))
}

func TestCircuitBreakerAbandonedProbeReadmits(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:provider", 1, 20*time.Millisecond, NewMemoryStore())

	cb.RecordFailure(ctx)
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.AllowRequest(ctx))
	require.False(t, cb.AllowRequest(ctx))

	// The prober never reports an outcome. Once its token expires the
	// slot reopens instead of blocking traffic forever.
	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.AllowRequest(ctx))
	assert.Equal(t, "half_open", cb.Status(ctx).State)

	cb.RecordSuccess(ctx)
	assert.Equal(t, "closed", cb.Status(ctx).State)
}

func TestCircuitBreakerSharedStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Two breakers over the same store and key act as one.
	first := NewCircuitBreaker("shared:db", 2, time.Minute, store)
	second := NewCircuitBreaker("shared:db", 2, time.Minute, store)

	first.RecordFailure(ctx)
	second.RecordFailure(ctx)

	assert.False(t, first.AllowRequest(ctx))
	assert.False(t, second.AllowRequest(ctx))
}

func TestCircuitBreakerConfigure(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test:db", 10, time.Minute, NewMemoryStore())

	cb.Configure(2, 30*time.Second)

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	assert.False(t, cb.AllowRequest(ctx))

	status := cb.Status(ctx)
	assert.Equal(t, 2, status.FailureThreshold)
	assert.Equal(t, 30*time.Second, status.RecoveryTimeout)
}

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker("test:db", 0, 0, nil)

	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 60*time.Second, cb.recoveryTimeout)
	assert.NotNil(t, cb.store)
}

func TestIsCircuitOpen(t *testing.T) {
	err := &CircuitOpenError{Key: "test:db"}

	assert.True(t, IsCircuitOpen(err))
	assert.Contains(t, err.Error(), "test:db")
	assert.False(t, IsCircuitOpen(context.DeadlineExceeded))
	assert.False(t, IsCircuitOpen(nil))
}

package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffExponentialGrowth(t *testing.T) {
	b := NewBackoffCalculator(1*time.Second, 30*time.Second, 2.0)
	b.Jitter = false

	assert.Equal(t, 1*time.Second, b.Delay(0, BackoffExponential))
	assert.Equal(t, 2*time.Second, b.Delay(1, BackoffExponential))
	assert.Equal(t, 4*time.Second, b.Delay(2, BackoffExponential))
	assert.Equal(t, 8*time.Second, b.Delay(3, BackoffExponential))
}

func TestBackoffExponentialCappedAtMax(t *testing.T) {
	b := NewBackoffCalculator(1*time.Second, 10*time.Second, 2.0)
	b.Jitter = false

	assert.Equal(t, 10*time.Second, b.Delay(10, BackoffExponential))
	// Large attempt numbers must not overflow past the cap.
	assert.Equal(t, 10*time.Second, b.Delay(100, BackoffExponential))
}

func TestBackoffLinear(t *testing.T) {
	b := NewBackoffCalculator(2*time.Second, 30*time.Second, 2.0)
	b.Jitter = false

	assert.Equal(t, 2*time.Second, b.Delay(0, BackoffLinear))
	assert.Equal(t, 4*time.Second, b.Delay(1, BackoffLinear))
	assert.Equal(t, 6*time.Second, b.Delay(2, BackoffLinear))
}

func TestBackoffFixed(t *testing.T) {
	b := NewBackoffCalculator(3*time.Second, 30*time.Second, 2.0)
	b.Jitter = false

	assert.Equal(t, 3*time.Second, b.Delay(0, BackoffFixed))
	assert.Equal(t, 3*time.Second, b.Delay(5, BackoffFixed))
}

func TestBackoffImmediateAndNone(t *testing.T) {
	b := NewBackoffCalculator(1*time.Second, 30*time.Second, 2.0)

	assert.Equal(t, time.Duration(0), b.Delay(0, BackoffImmediate))
	assert.Equal(t, time.Duration(0), b.Delay(3, BackoffNone))
}

func TestBackoffJitterRange(t *testing.T) {
	b := NewBackoffCalculator(10*time.Second, 30*time.Second, 2.0)

	for i := 0; i < 100; i++ {
		delay := b.Delay(0, BackoffFixed)
		assert.GreaterOrEqual(t, delay, 5*time.Second)
		assert.Less(t, delay, 10*time.Second+time.Millisecond)
	}
}

func TestBackoffHardCeiling(t *testing.T) {
	b := &BackoffCalculator{
		InitialDelay: 2 * time.Minute,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		Jitter:       false,
	}

	assert.Equal(t, 60*time.Second, b.Delay(0, BackoffFixed))
	assert.Equal(t, 60*time.Second, b.Delay(5, BackoffExponential))
}

func TestBackoffNegativeAttempt(t *testing.T) {
	b := NewBackoffCalculator(1*time.Second, 30*time.Second, 2.0)
	b.Jitter = false

	assert.Equal(t, 1*time.Second, b.Delay(-3, BackoffExponential))
}

func TestNewBackoffCalculatorDefaults(t *testing.T) {
	b := NewBackoffCalculator(0, 0, 0)

	assert.Equal(t, 1*time.Second, b.InitialDelay)
	assert.Equal(t, 30*time.Second, b.MaxDelay)
	assert.Equal(t, 2.0, b.Multiplier)
	assert.True(t, b.Jitter)
}

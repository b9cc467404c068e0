package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatisticsCounters(t *testing.T) {
	stats := NewRecoveryStatistics()

	stats.RecordError("*errors.AppError")
	stats.RecordError("*errors.AppError")
	stats.RecordError("*net.OpError")
	stats.RecordRecovery(StrategyRetry, true, 10*time.Millisecond)
	stats.RecordRecovery(StrategyRetry, false, 20*time.Millisecond)
	stats.RecordRecovery(StrategyEscalate, false, 0)
	stats.RecordTrip()

	snap := stats.Snapshot()
	assert.Equal(t, int64(3), snap.TotalErrors)
	assert.Equal(t, int64(1), snap.SuccessfulRecoveries)
	assert.Equal(t, int64(2), snap.FailedRecoveries)
	assert.Equal(t, int64(1), snap.CircuitBreakerTrips)
	assert.Equal(t, int64(2), snap.ErrorsByType["*errors.AppError"])
	assert.Equal(t, int64(1), snap.ErrorsByType["*net.OpError"])
	assert.Equal(t, int64(2), snap.RecoveriesByStrategy["retry"])
	assert.Equal(t, int64(1), snap.RecoveriesByStrategy["escalate"])
}

func TestStatisticsRunningAverage(t *testing.T) {
	stats := NewRecoveryStatistics()

	stats.RecordRecovery(StrategyRetry, true, 10*time.Millisecond)
	stats.RecordRecovery(StrategyRetry, true, 20*time.Millisecond)

	snap := stats.Snapshot()
	assert.InDelta(t, 15.0, snap.AverageRecoveryTimeMs, 0.01)

	stats.RecordRecovery(StrategyRetry, true, 30*time.Millisecond)
	snap = stats.Snapshot()
	assert.InDelta(t, 20.0, snap.AverageRecoveryTimeMs, 0.01)
}

func TestStatisticsSnapshotIsACopy(t *testing.T) {
	stats := NewRecoveryStatistics()
	stats.RecordError("*errors.AppError")

	snap := stats.Snapshot()
	snap.ErrorsByType["*errors.AppError"] = 99

	assert.Equal(t, int64(1), stats.Snapshot().ErrorsByType["*errors.AppError"])
}

func TestStatisticsReset(t *testing.T) {
	stats := NewRecoveryStatistics()
	stats.RecordError("*errors.AppError")
	stats.RecordRecovery(StrategyRetry, true, 10*time.Millisecond)
	stats.RecordTrip()

	stats.Reset()

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.TotalErrors)
	assert.Equal(t, int64(0), snap.SuccessfulRecoveries)
	assert.Equal(t, int64(0), snap.CircuitBreakerTrips)
	assert.Empty(t, snap.ErrorsByType)
	assert.Zero(t, snap.AverageRecoveryTimeMs)
}

func TestStatisticsConcurrentAccess(t *testing.T) {
	stats := NewRecoveryStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stats.RecordError("*errors.AppError")
				stats.RecordRecovery(StrategyRetry, true, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	assert.Equal(t, int64(1000), snap.TotalErrors)
	assert.Equal(t, int64(1000), snap.SuccessfulRecoveries)
}

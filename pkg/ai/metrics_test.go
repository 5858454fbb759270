package ai

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(ModelMetrics{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, DurationMs: 1000})
	u.Add(ModelMetrics{InputTokens: 5, OutputTokens: 20, TotalTokens: 25, DurationMs: 1000})

	got := u.Snapshot()
	assert.Equal(t, 15, got.InputTokens)
	assert.Equal(t, 40, got.OutputTokens)
	assert.Equal(t, 55, got.TotalTokens)
	assert.Equal(t, int64(2000), got.DurationMs)
	assert.InDelta(t, 20.0, got.TokenPerSecond, 0.001)

	u.Reset()
	assert.Equal(t, ModelMetrics{}, u.Snapshot())
}

func TestUsageConcurrent(t *testing.T) {
	var u Usage
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Add(ModelMetrics{TotalTokens: 2})
		}()
	}
	wg.Wait()

	got := u.Snapshot()
	assert.Equal(t, 100, got.TotalTokens)
	assert.Zero(t, got.TokenPerSecond)
}

package ai

import (
	"math"
	"sync"
)

// Usage accumulates ModelMetrics across concurrent calls. The zero value
// is ready to use.
type Usage struct {
	mu     sync.Mutex
	totals ModelMetrics
}

// Add folds a single call into the totals. TokenPerSecond is derived from
// output tokens over the summed call durations.
func (u *Usage) Add(m ModelMetrics) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.totals.InputTokens += m.InputTokens
	u.totals.OutputTokens += m.OutputTokens
	u.totals.TotalTokens += m.TotalTokens
	u.totals.DurationMs += m.DurationMs
	if u.totals.DurationMs > 0 {
		tps := float64(u.totals.OutputTokens) * 1000 / float64(u.totals.DurationMs)
		u.totals.TokenPerSecond = float32(math.Round(tps*100) / 100)
	}
}

// Snapshot returns a copy of the current totals.
func (u *Usage) Snapshot() ModelMetrics {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totals
}

// Reset clears the totals.
func (u *Usage) Reset() {
	u.mu.Lock()
	u.totals = ModelMetrics{}
	u.mu.Unlock()
}

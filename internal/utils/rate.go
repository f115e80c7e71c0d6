package utils

import (
	"sync"
	"time"
)

// RateTracker estimates a recent event rate from per-tick counts. The
// adaptive scheduler reads it to steer the tick interval toward load.
type RateTracker struct {
	mu      sync.Mutex
	window  []sample
	horizon time.Duration
}

type sample struct {
	at    time.Time
	count int
}

// NewRateTracker keeps samples within the given horizon (default 5 minutes).
func NewRateTracker(horizon time.Duration) *RateTracker {
	if horizon <= 0 {
		horizon = 5 * time.Minute
	}
	return &RateTracker{horizon: horizon}
}

// Record adds a batch count observed at the given instant.
func (r *RateTracker) Record(at time.Time, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = append(r.window, sample{at: at, count: count})
	r.trim(at)
}

// PerSecond returns the average events/second over the retained horizon.
func (r *RateTracker) PerSecond(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trim(now)
	if len(r.window) == 0 {
		return 0
	}

	total := 0
	for _, s := range r.window {
		total += s.count
	}
	span := now.Sub(r.window[0].at)
	if span < time.Second {
		span = time.Second
	}
	return float64(total) / span.Seconds()
}

func (r *RateTracker) trim(now time.Time) {
	cutoff := now.Add(-r.horizon)
	idx := 0
	for idx < len(r.window) && r.window[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		r.window = append(r.window[:0], r.window[idx:]...)
	}
}

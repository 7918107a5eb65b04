// Package resilience holds the small in-memory guards that protect the
// flash-sale path: per-identifier rate limiting and a circuit breaker for
// the payment dependency.
package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window admission controller keyed by caller
// identity. Crossing a window boundary resets the counter on first access.
type RateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	windows map[string]*rateWindow

	now func() time.Time
}

type rateWindow struct {
	start time.Time
	count int
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     maxRequests,
		window:  window,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// IsAllowed records one admission for the identifier if it is under the
// configured maximum in the current window; over the limit it returns false
// without side effects.
func (rl *RateLimiter) IsAllowed(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.currentWindow(identifier)
	if w.count >= rl.max {
		return false
	}
	w.count++
	return true
}

// Remaining reports admissions left in the identifier's current window
// without consuming one.
func (rl *RateLimiter) Remaining(identifier string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w := rl.currentWindow(identifier)
	if left := rl.max - w.count; left > 0 {
		return left
	}
	return 0
}

// Reset clears the identifier's window. Administrative override.
func (rl *RateLimiter) Reset(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, identifier)
}

// currentWindow returns the live window for the identifier, starting a
// fresh one when none exists or the previous one has expired.
// Callers must hold rl.mu.
func (rl *RateLimiter) currentWindow(identifier string) *rateWindow {
	now := rl.now()
	w, ok := rl.windows[identifier]
	if !ok || now.Sub(w.start) >= rl.window {
		w = &rateWindow{start: now}
		rl.windows[identifier] = w
	}
	return w
}

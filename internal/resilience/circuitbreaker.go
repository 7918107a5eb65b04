package resilience

import (
	"errors"
	"log"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker fails fast against a degraded dependency. After
// failureThreshold consecutive failures it opens and rejects calls
// immediately; once the cool-down elapses exactly one trial call is let
// through, closing the circuit on success and re-opening it on failure.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	coolDown         time.Duration

	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool

	now func() time.Time
}

// BreakerMetrics is a point-in-time snapshot for admin tooling.
type BreakerMetrics struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	Failures         int       `json:"failures"`
	FailureThreshold int       `json:"failure_threshold"`
	CoolDownSeconds  float64   `json:"cooldown_seconds"`
	LastFailureAt    time.Time `json:"last_failure_at,omitzero"`
}

func NewCircuitBreaker(name string, failureThreshold int, coolDown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Call executes operation under the breaker. In OPEN it returns
// ErrCircuitOpen without invoking operation unless the cool-down has
// elapsed; in HALF_OPEN only the single trial caller runs, concurrent
// callers are rejected until the trial resolves.
func (cb *CircuitBreaker) Call(operation func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	// Run the operation outside the lock; holding it would serialize all
	// callers behind the dependency's latency.
	err := operation()
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// admit decides whether the caller may proceed, moving OPEN to HALF_OPEN
// when the cool-down has elapsed and claiming the single trial slot.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.coolDown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		log.Printf("[Breaker] %s moved to HALF_OPEN", cb.name)
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		log.Printf("[Breaker] %s recovered, moving to CLOSED", cb.name)
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()
	cb.probing = false

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		log.Printf("[Breaker] %s trial failed, re-opening", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
		log.Printf("[Breaker] %s OPENED after %d consecutive failures", cb.name, cb.failures)
	}
}

// Reset forces the breaker CLOSED with zero failures. Administrative.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
	cb.lastFailure = time.Time{}
	log.Printf("[Breaker] %s manually reset", cb.name)
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns a snapshot for monitoring endpoints.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerMetrics{
		Name:             cb.name,
		State:            cb.state.String(),
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		CoolDownSeconds:  cb.coolDown.Seconds(),
		LastFailureAt:    cb.lastFailure,
	}
}

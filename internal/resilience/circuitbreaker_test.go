package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func succeeding() error { return nil }

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	assert.Error(t, cb.Call(failing))
	assert.Error(t, cb.Call(failing))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_OpensAtThresholdAndRejectsWithoutInvoking(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Call(failing), errBoom)
	}
	require.Equal(t, StateOpen, cb.State())

	invoked := false
	err := cb.Call(func() error {
		invoked = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	require.Error(t, cb.Call(failing))
	require.Error(t, cb.Call(failing))
	require.NoError(t, cb.Call(succeeding))
	require.Error(t, cb.Call(failing))
	require.Error(t, cb.Call(failing))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenAfterCoolDown_TrialSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 30*time.Second)
	current := time.Now()
	cb.now = func() time.Time { return current }

	require.Error(t, cb.Call(failing))
	require.Equal(t, StateOpen, cb.State())

	current = current.Add(31 * time.Second)

	require.NoError(t, cb.Call(succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenTrialFailureReopensAndResetsTimer(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 30*time.Second)
	current := time.Now()
	cb.now = func() time.Time { return current }

	require.Error(t, cb.Call(failing))
	current = current.Add(31 * time.Second)

	require.ErrorIs(t, cb.Call(failing), errBoom)
	require.Equal(t, StateOpen, cb.State())

	// Timer restarted: still rejecting before a full new cool-down.
	current = current.Add(20 * time.Second)
	assert.ErrorIs(t, cb.Call(succeeding), ErrCircuitOpen)

	current = current.Add(11 * time.Second)
	assert.NoError(t, cb.Call(succeeding))
}

func TestBreaker_ExactlyOneConcurrentHalfOpenTrial(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Millisecond)
	current := time.Now()
	cb.now = func() time.Time { return current }

	require.Error(t, cb.Call(failing))
	current = current.Add(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	executed, rejected := 0, 0

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Call(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// While the trial is in flight every other caller must be rejected.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Call(func() error {
				mu.Lock()
				executed++
				mu.Unlock()
				return nil
			})
			if errors.Is(err, ErrCircuitOpen) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}

	// Give the competing callers time to hit the breaker, then resolve the trial.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 10, rejected+executed)
	assert.Equal(t, 10, rejected, "no caller may slip through while the trial is unresolved")
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)

	require.Error(t, cb.Call(failing))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(succeeding))
}

func TestBreaker_Metrics(t *testing.T) {
	cb := NewCircuitBreaker("payment", 3, 30*time.Second)

	require.Error(t, cb.Call(failing))
	m := cb.Metrics()

	assert.Equal(t, "payment", m.Name)
	assert.Equal(t, "CLOSED", m.State)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, 3, m.FailureThreshold)
	assert.Equal(t, 30.0, m.CoolDownSeconds)
	assert.False(t, m.LastFailureAt.IsZero())
}

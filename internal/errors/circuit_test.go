package errors

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("vector", WithMaxFailures(maxFailures), WithResetTimeout(reset))
	cb.now = clock.Now
	return cb, clock
}

// fail runs one admitted request that fails, reporting whether it was
// admitted.
func fail(cb *CircuitBreaker) bool {
	if !cb.Allow() {
		return false
	}
	cb.RecordFailure()
	return true
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, fail(cb))
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, cb.Failures())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)
	fail(cb)
	fail(cb)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// only one trial call at a time
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)
	fail(cb)
	fail(cb)
	clock.Advance(2 * time.Second)

	require.True(t, fail(cb), "the trial call is admitted")
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(500 * time.Millisecond)
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ReleaseFreesTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	fail(cb)
	clock.Advance(time.Second)

	require.True(t, cb.Allow())
	require.False(t, cb.Allow())
	cb.Release()

	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	fail(cb)
	fail(cb)

	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

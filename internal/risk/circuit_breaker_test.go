package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveFailures: 3})

	cb.OnFailure()
	cb.OnFailure()
	require.NoError(t, cb.Allow())
	cb.OnSuccess()
	cb.OnFailure()
	cb.OnFailure()
	require.NoError(t, cb.Allow(), "success resets the streak")

	cb.OnFailure()
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
	assert.True(t, cb.Halted())
	assert.Equal(t, int64(1), cb.Trips())

	cb.Resume()
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_DisabledThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 100; i++ {
		cb.OnFailure()
	}
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_CooldownHalfOpen(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveFailures: 2, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	cb.OnFailure()
	cb.OnFailure()
	require.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)

	now = now.Add(30 * time.Second)
	require.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)

	now = now.Add(31 * time.Second)
	require.NoError(t, cb.Allow(), "half-open after cooldown")
	cb.OnFailure()
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen, "one more failure reopens")
	assert.Equal(t, int64(2), cb.Trips())
}

func TestCircuitBreaker_ManualHaltIgnoresCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Cooldown: time.Second})
	cb.now = func() time.Time { return now }
	cb.Halt()
	now = now.Add(time.Hour)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
	cb.Resume()
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_NilSafe(t *testing.T) {
	var cb *CircuitBreaker
	cb.OnFailure()
	cb.Halt()
	assert.NoError(t, cb.Allow())
	assert.False(t, cb.Halted())
}

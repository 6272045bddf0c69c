package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	tb := newTokenBucket(2, 0.5, clk.now)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Equal(t, clk.t.Add(2*time.Second), tb.GetResetTime())

	clk.advance(time.Second)
	assert.False(t, tb.Allow(), "half a token is not enough")

	clk.advance(time.Second)
	assert.True(t, tb.Allow())

	clk.advance(time.Hour)
	assert.Equal(t, 2, tb.GetRemaining(), "refill is capped at capacity")
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 0)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestKeyedLimiter_IsolatesKeys(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	kl := newKeyedLimiter(1, 1, clk.now)

	assert.True(t, kl.Allow("alice"))
	assert.False(t, kl.Allow("alice"))
	assert.True(t, kl.Allow("bob"))
	assert.Equal(t, 0, kl.GetRemaining("alice"))
	assert.Equal(t, 2, kl.Len())

	clk.advance(time.Second)
	assert.True(t, kl.Allow("alice"))
}

func TestKeyedLimiter_Prune(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	kl := newKeyedLimiter(1, 1, clk.now)

	kl.Allow("alice")
	clk.advance(time.Minute)
	kl.Allow("bob")

	assert.Equal(t, 1, kl.Prune(30*time.Second))
	assert.Equal(t, 1, kl.Len())
	assert.NotNil(t, kl.GetLimiter("bob"))
}

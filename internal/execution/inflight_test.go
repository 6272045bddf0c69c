package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightDeduper(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewInFlightDeduper(time.Minute, 4)
	d.now = func() time.Time { return now }

	res, err := d.TryAcquire("k")
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = d.TryAcquire("k")
	assert.ErrorIs(t, err, ErrDuplicateInFlight)

	d.Complete("k", &Result{RequestID: "r-1"})
	res, err = d.TryAcquire("k")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "r-1", res.RequestID)
	assert.True(t, res.Replayed)

	now = now.Add(2 * time.Minute)
	res, err = d.TryAcquire("k")
	require.NoError(t, err)
	assert.Nil(t, res, "expired entries are forgotten")

	d.Release("k")
	res, err = d.TryAcquire("k")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestInFlightDeduper_EmptyKeyAndNil(t *testing.T) {
	var d *InFlightDeduper
	res, err := d.TryAcquire("k")
	assert.NoError(t, err)
	assert.Nil(t, res)

	d = NewInFlightDeduper(0, 0)
	for i := 0; i < 3; i++ {
		_, err := d.TryAcquire("")
		assert.NoError(t, err)
	}
}

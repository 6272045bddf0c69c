package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsStagesInOrder(t *testing.T) {
	m := NewManager()
	var mu sync.Mutex
	var got []string
	record := func(name string) Handler {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name)
			return nil
		}
	}

	m.OnShutdown("store", 2, record("store"))
	m.OnShutdown("http", 0, record("http"))
	m.OnShutdown("executor", 1, record("executor"))
	m.OnShutdown("failing", 1, func(context.Context) error { return errors.New("boom") })

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "executor", "store"}, got)
}

func TestShutdown_TimeoutStopsLaterStages(t *testing.T) {
	m := NewManager()
	ran := false
	m.OnShutdown("slow", 0, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return ctx.Err()
	})
	m.OnShutdown("late", 1, func(context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
	assert.False(t, ran)
}

func TestShutdown_NoHooks(t *testing.T) {
	assert.NoError(t, NewManager().Shutdown(context.Background()))
}

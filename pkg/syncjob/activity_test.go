package syncjob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitIdleCountsCreationAsActivity(t *testing.T) {
	before := time.Now()
	a := NewActivity()
	assert.False(t, a.Last().Before(before))

	start := time.Now()
	require.NoError(t, a.WaitIdle(context.Background(), 50*time.Millisecond, 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, NewActivity().WaitIdle(ctx, time.Hour, time.Second), context.DeadlineExceeded)
}

func TestWaitIdleZeroWindow(t *testing.T) {
	a := NewActivity()
	a.Touch()

	start := time.Now()
	require.NoError(t, a.WaitIdle(context.Background(), 0, time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitIdleWaitsOutTheWindow(t *testing.T) {
	a := NewActivity()
	a.Touch()
	assert.False(t, a.Last().IsZero())

	start := time.Now()
	require.NoError(t, a.WaitIdle(context.Background(), 50*time.Millisecond, 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitIdleRestartsOnTouch(t *testing.T) {
	a := NewActivity()
	a.Touch()

	go func() {
		time.Sleep(30 * time.Millisecond)
		a.Touch()
	}()

	start := time.Now()
	require.NoError(t, a.WaitIdle(context.Background(), 60*time.Millisecond, 0))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitIdleHonoursContext(t *testing.T) {
	a := NewActivity()
	a.Touch()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.WaitIdle(ctx, time.Hour, time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitIdleUsesClock(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newActivity(func() time.Time { return now })
	assert.Equal(t, now, a.Last())

	now = now.Add(time.Minute)
	require.NoError(t, a.WaitIdle(context.Background(), 30*time.Second, 0))
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityPausesAfterThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewActivity(clock, InactivityThreshold)

	assert.True(t, a.Due())
	clock.Advance(InactivityThreshold)
	assert.True(t, a.Due(), "exactly at the threshold is still active")

	clock.Advance(10 * time.Millisecond)
	assert.False(t, a.Due())
	assert.False(t, a.Active())

	// Stays paused without activity.
	clock.Advance(time.Hour)
	assert.False(t, a.Due())
}

func TestMarkActivityResumes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewActivity(clock, InactivityThreshold)
	clock.Advance(5010 * time.Millisecond)
	require.False(t, a.Due())

	a.MarkActivity()
	assert.True(t, a.Active())
	assert.Equal(t, clock.Now(), a.LastActivityAt())
	assert.True(t, a.Due())
}

func TestSchedulerRunsJobUntilIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	activity := NewActivity(clock, InactivityThreshold)
	s := New("test", clock, time.Second, activity)

	calls := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) { calls <- struct{}{} })
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	waitCall := func() {
		t.Helper()
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("job was not called")
		}
	}

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		waitCall()
	}
	assert.EqualValues(t, 5, s.Fired())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return s.Skipped() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, calls)

	activity.MarkActivity()
	clock.Advance(time.Second)
	waitCall()
	assert.EqualValues(t, 6, s.Fired())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

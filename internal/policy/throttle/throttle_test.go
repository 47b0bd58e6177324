package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClampsStartDelay(t *testing.T) {
	t.Parallel()

	th := New(Config{StartDelay: 3 * time.Second, MinDelay: 5 * time.Second, MaxDelay: 10 * time.Second, TargetConcurrency: 3})
	assert.Equal(t, 5*time.Second, th.Delay())

	th = New(Config{StartDelay: time.Minute, MinDelay: time.Second, MaxDelay: 10 * time.Second})
	assert.Equal(t, 10*time.Second, th.Delay())
}

func TestObserveMovesTowardsLatency(t *testing.T) {
	t.Parallel()

	th := New(Config{StartDelay: 4 * time.Second, MinDelay: time.Second, MaxDelay: 10 * time.Second, TargetConcurrency: 2})
	// target = 12s/2 = 6s, next = max((4+6)/2, 6) = 6s
	th.Observe(12*time.Second, false)
	assert.Equal(t, 6*time.Second, th.Delay())

	// fast responses shrink the delay: target = 1s, next = (6+1)/2 = 3.5s
	th.Observe(2*time.Second, false)
	assert.Equal(t, 3500*time.Millisecond, th.Delay())
}

func TestObserveFailureBacksOff(t *testing.T) {
	t.Parallel()

	th := New(Config{StartDelay: 3 * time.Second, MinDelay: time.Second, MaxDelay: 10 * time.Second, TargetConcurrency: 3})
	th.Observe(0, true)
	assert.Equal(t, 6*time.Second, th.Delay())
	th.Observe(0, true)
	assert.Equal(t, 10*time.Second, th.Delay(), "bounded by max delay")
}

func TestObserveStaysAboveMin(t *testing.T) {
	t.Parallel()

	th := New(Config{StartDelay: 2 * time.Second, MinDelay: 2 * time.Second, MaxDelay: 10 * time.Second, TargetConcurrency: 3})
	for i := 0; i < 10; i++ {
		th.Observe(time.Millisecond, false)
	}
	assert.Equal(t, 2*time.Second, th.Delay())
}

func TestWaitZeroDelayIsImmediate(t *testing.T) {
	t.Parallel()

	th := New(Config{})
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// zero delay and a failure keeps the delay at zero
	th.Observe(0, true)
	assert.Zero(t, th.Delay())
}

func TestWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	th := New(Config{StartDelay: 50 * time.Millisecond, MinDelay: 50 * time.Millisecond, MaxDelay: time.Second})
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	th := New(Config{StartDelay: time.Hour, MinDelay: time.Hour, MaxDelay: time.Hour})
	require.NoError(t, th.Wait(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, th.Wait(ctx))
}

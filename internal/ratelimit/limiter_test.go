package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, ErrUnavailable
}

func fixedClock(l *Limiter, t *time.Time) {
	l.now = func() time.Time { return *t }
}

func TestLimiter_FixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 250*int64(time.Millisecond))
	l := NewLimiter(NewMemoryCounter(), "rl:ip", 3, time.Second)
	fixedClock(l, &now)

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, int64(i), d.Count)
	}

	d, err := l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 750*time.Millisecond, d.RetryAfter)
	assert.Equal(t, 1, d.RetryAfterSeconds())

	// other keys have their own budget
	d, err = l.Allow(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// next window starts fresh
	now = now.Add(time.Second)
	d, err = l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
}

func TestLimiter_ZeroLimitAdmitsAll(t *testing.T) {
	l := NewLimiter(failingCounter{}, "", 0, 0)
	d, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_CounterFailureIsAnError(t *testing.T) {
	l := NewLimiter(failingCounter{}, "", 10, time.Second)
	_, err := l.Allow(context.Background(), "k")
	require.True(t, errors.Is(err, ErrUnavailable))
}

func TestLimiter_ConcurrentBurstIsPartiallyAdmitted(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(NewMemoryCounter(), "rl", 10, time.Second)
	fixedClock(l, &now)

	var allowed, denied atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), "burst")
			if err != nil {
				return
			}
			if d.Allowed {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())
	assert.Equal(t, int32(90), denied.Load())
}

func TestMemoryCounter_ExpiredKeyRestarts(t *testing.T) {
	c := NewMemoryCounter()
	n, err := c.Incr(context.Background(), "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	time.Sleep(20 * time.Millisecond)
	n, err = c.Incr(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDecision_RetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 2, Decision{RetryAfter: 1100 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{}.RetryAfterSeconds())
}

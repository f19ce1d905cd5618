// Package ratelimit implements fixed-window admission limits.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Limiter admits up to limit requests per key in each window.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
	prefix  string
	now     func() time.Time
}

// NewLimiter returns a limiter over counter. A limit <= 0 admits everything.
func NewLimiter(counter Counter, prefix string, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{counter: counter, limit: limit, window: window, prefix: prefix, now: time.Now}
}

func (l *Limiter) Limit() int { return l.limit }

// Allow counts one request for key in the current window.
// key: {prefix}:{key}:{window index}
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	d := Decision{Allowed: true, Limit: l.limit}
	if l.limit <= 0 {
		return d, nil
	}

	now := l.now()
	idx := now.UnixNano() / int64(l.window)
	k := l.prefix + ":" + key + ":" + strconv.FormatInt(idx, 10)

	n, err := l.counter.Incr(ctx, k, 2*l.window)
	if err != nil {
		return Decision{}, err
	}
	d.Count = n
	if n > int64(l.limit) {
		d.Allowed = false
		d.RetryAfter = time.Duration((idx+1)*int64(l.window) - now.UnixNano())
	}
	return d, nil
}

// RetryAfterSeconds rounds up, never below one second.
func (d Decision) RetryAfterSeconds() int {
	s := int((d.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

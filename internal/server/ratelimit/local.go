package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-chi/httprate"
)

// LocalLimiter keeps attempt counters in process memory using httprate's
// sliding-window counter. Budgets are per instance, so it only stands in
// when no Redis is configured.
type LocalLimiter struct {
	mu       sync.Mutex
	counters map[time.Duration]httprate.LimitCounter
	now      func() time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		counters: map[time.Duration]httprate.LimitCounter{},
		now:      time.Now,
	}
}

func (l *LocalLimiter) counter(window time.Duration) httprate.LimitCounter {
	c, ok := l.counters[window]
	if !ok {
		c = httprate.NewLocalLimitCounter(window)
		l.counters[window] = c
	}
	return c
}

// Allow records one attempt for key and reports whether it fits in limit
// attempts per window. The previous window is weighted by how much of it
// still overlaps the sliding window.
func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	curWin := now.Truncate(window)
	prevWin := curWin.Add(-window)
	c := l.counter(window)

	cur, prev, err := c.Get(key, curWin, prevWin)
	if err != nil {
		return nil, err
	}
	elapsed := now.Sub(curWin)
	used := float64(prev)*float64(window-elapsed)/float64(window) + float64(cur)

	res := &Result{Limit: limit, ResetAt: curWin.Add(window)}
	if used+1 > float64(limit) {
		return res, nil
	}
	if err := c.Increment(key, curWin); err != nil {
		return nil, err
	}
	res.Allowed = true
	res.Remaining = int(float64(limit) - used - 1)
	return res, nil
}

// Reset zeroes the current window for key. Attempts carried over from the
// previous window keep decaying on their own.
func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	for window, c := range l.counters {
		curWin := now.Truncate(window)
		cur, _, err := c.Get(key, curWin, curWin.Add(-window))
		if err != nil {
			return err
		}
		if cur > 0 {
			if err := c.IncrementBy(key, curWin, -cur); err != nil {
				return err
			}
		}
	}
	return nil
}

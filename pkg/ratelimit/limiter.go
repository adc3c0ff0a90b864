// Package ratelimit provides a process-local sliding-window admission
// limiter, one instance per upstream dependency.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits up to Limit calls per Window, tracked by the timestamps
// of previously admitted calls. Correctness is per process instance; the
// caching and backoff layers above absorb the approximation.
type Limiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	admitted []time.Time

	now func() time.Time
}

// New creates a limiter admitting limit calls per window.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		limit:    limit,
		window:   window,
		admitted: make([]time.Time, 0, limit),
		now:      time.Now,
	}
}

// TryAcquire admits the call if fewer than limit calls were admitted
// within the window. Admission records the current timestamp.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictLocked(now)

	if len(l.admitted) >= l.limit {
		return false
	}
	l.admitted = append(l.admitted, now)
	return true
}

// RetryAfter reports how long until the next call could be admitted.
// Returns zero when a call would be admitted right now.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictLocked(now)

	if len(l.admitted) < l.limit {
		return 0
	}
	// The window frees a slot when the oldest admitted call ages out.
	wait := l.admitted[0].Add(l.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (l *Limiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admitted) && !l.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[i:]...)
	}
}

// Package rate provides fixed-window request limiters.
package rate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Allower reports whether one more hit on key fits in the current window.
type Allower interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type bucket struct {
	count int
	start time.Time
}

type Limiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	buckets map[string]bucket
	lastGC  time.Time
}

func NewLimiter() *Limiter {
	return NewLimiterWithClock(clockwork.NewRealClock())
}

func NewLimiterWithClock(clock clockwork.Clock) *Limiter {
	return &Limiter{clock: clock, buckets: map[string]bucket{}, lastGC: clock.Now().UTC()}
}

func (l *Limiter) Allow(_ context.Context, key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now().UTC()
	if now.Sub(l.lastGC) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.start) > 3*window {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= window {
		l.buckets[key] = bucket{count: 1, start: now}
		return true
	}
	if b.count >= limit {
		return false
	}
	b.count++
	l.buckets[key] = b
	return true
}

package outbound

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a soft sends-per-second limiter. It never rejects work;
// once recent throughput crosses 80% of the budget it sleeps the caller
// proportionally to how far over it is, smoothing bursts instead of
// enforcing a hard ceiling.
type rateLimiter struct {
	mu     sync.Mutex
	budget float64
	sends  []time.Time
}

func newRateLimiter(budget float64) *rateLimiter {
	return &rateLimiter{budget: budget}
}

func (l *rateLimiter) wait(ctx context.Context) {
	if l.budget <= 0 {
		return
	}

	l.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-time.Second)

	kept := l.sends[:0]
	for _, t := range l.sends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.sends = append(kept, now)
	rate := float64(len(l.sends))
	l.mu.Unlock()

	threshold := 0.8 * l.budget
	if rate <= threshold {
		return
	}

	delay := time.Duration(float64(time.Second) * (rate - threshold) / l.budget)
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// Package retrypolicy decides whether and when a failed attempt is retried.
// It never sleeps itself; callers own the wait so no lock is held across it.
package retrypolicy

import (
	"math"
	"math/rand"
	"time"

	"github.com/covecrm/mailengine/internal/errclass"
)

// Strategy names the delay schedule a decision came from.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyFixed       Strategy = "fixed"
	StrategyImmediate   Strategy = "immediate"
	StrategyNone        Strategy = "none"
)

// Decision is the verdict for one (category, attempt) pair.
type Decision struct {
	Retry    bool
	Delay    time.Duration
	Strategy Strategy
}

// Policy holds the tuning knobs for the delay schedules.
type Policy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	AuthRetryDelay time.Duration
	QuotaWaitCap   time.Duration

	now func() time.Time
}

// NewPolicy returns a policy with production defaults.
func NewPolicy() *Policy {
	return &Policy{
		BaseDelay:      time.Second,
		MaxDelay:       5 * time.Minute,
		Multiplier:     2,
		JitterFraction: 0.2,
		AuthRetryDelay: 100 * time.Millisecond,
		QuotaWaitCap:   time.Hour,
		now:            time.Now,
	}
}

// Decide returns the retry decision for an error category after `attempt`
// attempts have already been made. Once attempt >= maxAttempts the answer is
// always no, regardless of category.
//
// Rate-limit, network and server errors back off exponentially with jitter so
// concurrent workers do not retry in lockstep. Quota errors wait for the next
// quota period (capped). Authentication errors retry almost immediately: the
// token refresh happens out-of-band before the next attempt.
func (p *Policy) Decide(category errclass.Category, attempt, maxAttempts int) Decision {
	if attempt >= maxAttempts {
		return Decision{Strategy: StrategyNone}
	}

	switch category {
	case errclass.CategoryRateLimit, errclass.CategoryNetwork, errclass.CategoryServer:
		return Decision{
			Retry:    true,
			Delay:    p.backoff(attempt),
			Strategy: StrategyExponential,
		}
	case errclass.CategoryQuota:
		return Decision{
			Retry:    true,
			Delay:    p.quotaWait(),
			Strategy: StrategyFixed,
		}
	case errclass.CategoryAuthentication:
		return Decision{
			Retry:    true,
			Delay:    p.AuthRetryDelay,
			Strategy: StrategyImmediate,
		}
	}

	return Decision{Strategy: StrategyNone}
}

// backoff computes base * multiplier^(attempt-1), capped, with up to
// ±(jitter * delay) of randomized jitter.
func (p *Policy) backoff(attempt int) time.Duration {
	exponent := attempt - 1
	if exponent < 0 {
		exponent = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(exponent))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFraction > 0 {
		jitter := (rand.Float64()*2 - 1) * p.JitterFraction * delay
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// quotaWait is the time until the next UTC day, capped so a campaign retry
// never parks for longer than the configured maximum.
func (p *Policy) quotaWait() time.Duration {
	now := p.now().UTC()
	nextPeriod := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

	wait := nextPeriod.Sub(now)
	if wait > p.QuotaWaitCap {
		wait = p.QuotaWaitCap
	}

	return wait
}

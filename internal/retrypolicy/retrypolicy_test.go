package retrypolicy

import (
	"testing"
	"time"

	"github.com/covecrm/mailengine/internal/errclass"
	"github.com/stretchr/testify/assert"
)

func TestDecideExhaustedAttempts(t *testing.T) {
	p := NewPolicy()

	categories := []errclass.Category{
		errclass.CategoryRateLimit,
		errclass.CategoryNetwork,
		errclass.CategoryServer,
		errclass.CategoryQuota,
		errclass.CategoryAuthentication,
	}

	for _, category := range categories {
		decision := p.Decide(category, 4, 4)
		assert.False(t, decision.Retry, "category %s should not retry once attempts are exhausted", category)
		assert.Equal(t, StrategyNone, decision.Strategy)
	}
}

func TestDecideNonRetryableCategories(t *testing.T) {
	p := NewPolicy()

	for _, category := range []errclass.Category{errclass.CategoryClient, errclass.CategoryUnknown} {
		decision := p.Decide(category, 1, 4)
		assert.False(t, decision.Retry, "category %s should never retry", category)
	}
}

func TestDecideExponentialBackoff(t *testing.T) {
	p := NewPolicy()
	p.BaseDelay = 100 * time.Millisecond
	p.Multiplier = 2
	p.JitterFraction = 0 // deterministic for this test

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}

	for i, want := range expected {
		decision := p.Decide(errclass.CategoryNetwork, i+1, 10)
		assert.True(t, decision.Retry)
		assert.Equal(t, StrategyExponential, decision.Strategy)
		assert.Equal(t, want, decision.Delay, "attempt %d", i+1)
	}
}

func TestDecideBackoffCapped(t *testing.T) {
	p := NewPolicy()
	p.BaseDelay = time.Second
	p.MaxDelay = 4 * time.Second
	p.Multiplier = 2
	p.JitterFraction = 0

	decision := p.Decide(errclass.CategoryServer, 10, 20)
	assert.Equal(t, 4*time.Second, decision.Delay)
}

func TestDecideJitterStaysWithinBounds(t *testing.T) {
	p := NewPolicy()
	p.BaseDelay = time.Second
	p.Multiplier = 1
	p.JitterFraction = 0.2

	for i := 0; i < 100; i++ {
		decision := p.Decide(errclass.CategoryRateLimit, 1, 5)
		assert.GreaterOrEqual(t, decision.Delay, 800*time.Millisecond)
		assert.LessOrEqual(t, decision.Delay, 1200*time.Millisecond)
	}
}

func TestDecideQuotaWaitsForNextPeriod(t *testing.T) {
	p := NewPolicy()
	p.QuotaWaitCap = 48 * time.Hour
	p.now = func() time.Time {
		return time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	}

	decision := p.Decide(errclass.CategoryQuota, 1, 5)
	assert.True(t, decision.Retry)
	assert.Equal(t, StrategyFixed, decision.Strategy)
	assert.Equal(t, time.Hour, decision.Delay)
}

func TestDecideQuotaWaitCapped(t *testing.T) {
	p := NewPolicy()
	p.QuotaWaitCap = 10 * time.Minute
	p.now = func() time.Time {
		return time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	}

	decision := p.Decide(errclass.CategoryQuota, 1, 5)
	assert.Equal(t, 10*time.Minute, decision.Delay)
}

func TestDecideAuthenticationRetriesAlmostImmediately(t *testing.T) {
	p := NewPolicy()

	decision := p.Decide(errclass.CategoryAuthentication, 1, 5)
	assert.True(t, decision.Retry)
	assert.Equal(t, StrategyImmediate, decision.Strategy)
	assert.Equal(t, p.AuthRetryDelay, decision.Delay)
}

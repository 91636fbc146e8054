package outbound

import (
	"context"
	"time"

	"github.com/covecrm/mailengine/internal/breaker"
	"github.com/covecrm/mailengine/internal/connector"
	"github.com/covecrm/mailengine/internal/errclass"
)

// sendOutcome is the final verdict for one delivery unit after all its
// attempts.
type sendOutcome struct {
	attempts       int
	result         *connector.SendResult
	err            error
	classification errclass.Classification
	breakerOpen    bool
}

// sendWithRetry drives one delivery unit: at most maxRetries+1 provider
// calls, each one gated by the account's circuit breaker, with the delay
// between attempts chosen by the retry policy for the classified error. A
// non-retryable error or an open breaker ends the unit immediately; an open
// breaker consumes no attempts.
func (p *Pipeline) sendWithRetry(ctx context.Context, breakerKey string, msg *connector.OutboundMessage, creds connector.Credentials, maxRetries int) sendOutcome {
	maxAttempts := maxRetries + 1
	var outcome sendOutcome

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !p.breaker.Allow(breakerKey) {
			outcome.err = breaker.ErrOpen
			outcome.breakerOpen = true
			return outcome
		}

		result, err := p.sender.Send(ctx, msg, creds)
		outcome.attempts = attempt

		if err == nil {
			p.breaker.RecordSuccess(breakerKey)
			outcome.result = result
			outcome.err = nil
			return outcome
		}

		p.breaker.RecordFailure(breakerKey)

		outcome.err = err
		outcome.classification = errclass.Classify(err)
		if !outcome.classification.Retryable {
			return outcome
		}

		decision := p.policy.Decide(outcome.classification.Category, attempt, maxAttempts)
		if !decision.Retry {
			return outcome
		}

		select {
		case <-ctx.Done():
			outcome.err = ctx.Err()
			return outcome
		case <-time.After(decision.Delay):
		}
	}

	return outcome
}

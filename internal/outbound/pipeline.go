// Package outbound is the bulk delivery pipeline: batching with concurrency
// windows, per-unit retries behind an account circuit breaker, daily quota
// enforcement, soft rate limiting, and dead-lettering of exhausted units.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/breaker"
	"github.com/covecrm/mailengine/internal/connector"
	"github.com/covecrm/mailengine/internal/deadletter"
	"github.com/covecrm/mailengine/internal/models"
	"github.com/covecrm/mailengine/internal/notify"
	"github.com/covecrm/mailengine/internal/quota"
	"github.com/covecrm/mailengine/internal/retrypolicy"
)

// ErrQuotaExceeded rejects a campaign whose estimated cost would cross the
// user's daily quota. Nothing has been sent and nothing was consumed.
var ErrQuotaExceeded = errors.New("daily send quota exceeded")

// Config holds the pipeline defaults applied when a campaign leaves a knob
// unset.
type Config struct {
	DefaultBatchSize     int
	DefaultMaxConcurrent int
	DefaultBatchDelay    time.Duration
	DefaultMaxRetries    int
	SendRPSBudget        float64
	TrackingBaseURL      string
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Sender      connector.Sender
	Credentials connector.CredentialsProvider
	Quota       *quota.Tracker
	Breaker     *breaker.Registry
	Policy      *retrypolicy.Policy
	DeadLetters deadletter.Store
	Status      *StatusTracker
	Notifier    notify.Notifier
	Logger      *zap.Logger
}

// Pipeline processes bulk email campaigns.
type Pipeline struct {
	sender      connector.Sender
	creds       connector.CredentialsProvider
	quota       *quota.Tracker
	breaker     *breaker.Registry
	policy      *retrypolicy.Policy
	deadletters deadletter.Store
	status      *StatusTracker
	notifier    notify.Notifier
	logger      *zap.Logger
	limiter     *rateLimiter
	composer    *Composer
	cfg         Config
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = 25
	}
	if cfg.DefaultMaxConcurrent <= 0 {
		cfg.DefaultMaxConcurrent = 3
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = 0
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NopNotifier{}
	}
	if deps.Policy == nil {
		deps.Policy = retrypolicy.NewPolicy()
	}

	return &Pipeline{
		sender:      deps.Sender,
		creds:       deps.Credentials,
		quota:       deps.Quota,
		breaker:     deps.Breaker,
		policy:      deps.Policy,
		deadletters: deps.DeadLetters,
		status:      deps.Status,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		limiter:     newRateLimiter(cfg.SendRPSBudget),
		composer:    &Composer{TrackingBaseURL: cfg.TrackingBaseURL},
		cfg:         cfg,
	}
}

// FailedRecipient is one delivery unit that exhausted its attempts.
type FailedRecipient struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	Permanent bool   `json:"permanent"`
}

// BatchResult is the outcome of one batch.
type BatchResult struct {
	Index  int `json:"index"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// CampaignResult is the aggregate outcome of one campaign run.
type CampaignResult struct {
	CampaignID       string               `json:"campaign_id"`
	State            models.CampaignState `json:"state"`
	Total            int                  `json:"total"`
	Sent             int                  `json:"sent"`
	Failed           int                  `json:"failed"`
	FailedRecipients []FailedRecipient    `json:"failed_recipients,omitempty"`
	Batches          []BatchResult        `json:"batches"`
}

// ProcessBulkEmail runs one campaign to completion. Recipients are split
// into batches; batches run in windows of the campaign's concurrency limit,
// with the configured delay strictly between windows. Individual failures
// are recorded, dead-lettered when exhausted, and never abort the campaign.
//
// The campaign is rejected up front when its estimated quota cost does not
// fit the user's remaining daily quota; quota is only consumed per
// successful send.
func (p *Pipeline) ProcessBulkEmail(ctx context.Context, account *models.Account, campaign *models.Campaign) (*CampaignResult, error) {
	if len(campaign.Recipients) == 0 {
		return nil, fmt.Errorf("campaign has no recipients")
	}
	if campaign.FromAddress == "" {
		return nil, fmt.Errorf("campaign has no from address")
	}
	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}
	p.applyDefaults(campaign)

	estimate := quota.EstimateCampaign(len(campaign.Recipients))
	allowed, err := p.quota.CanConsume(ctx, campaign.UserID, estimate)
	if err != nil {
		return nil, fmt.Errorf("failed to check quota: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("campaign needs %d quota units: %w", estimate, ErrQuotaExceeded)
	}

	creds, err := p.creds.Resolve(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.status.Register(campaign.ID, len(campaign.Recipients), cancel)

	batches := partitionRecipients(campaign.Recipients, campaign.BatchSize)

	p.logger.Info("campaign started",
		zap.String("campaign_id", campaign.ID),
		zap.String("account_id", account.ID),
		zap.Int("recipients", len(campaign.Recipients)),
		zap.Int("batches", len(batches)))

	run := &campaignRun{
		account:  account,
		campaign: campaign,
		creds:    creds,
		results:  make([]BatchResult, len(batches)),
	}

	for start := 0; start < len(batches); start += campaign.MaxConcurrentBatches {
		if start > 0 {
			if !sleepCtx(runCtx, campaign.DelayBetweenBatches) {
				break
			}
		}
		if runCtx.Err() != nil {
			break
		}

		end := start + campaign.MaxConcurrentBatches
		if end > len(batches) {
			end = len(batches)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				p.processBatch(runCtx, run, index, batches[index])
			}(i)
		}
		wg.Wait()
	}

	return p.finish(runCtx, run), nil
}

// campaignRun accumulates results across concurrent batches.
type campaignRun struct {
	account  *models.Account
	campaign *models.Campaign
	creds    connector.Credentials

	mu       sync.Mutex
	sent     int
	failed   int
	failures []FailedRecipient
	results  []BatchResult
}

func (p *Pipeline) processBatch(ctx context.Context, run *campaignRun, index int, recipients []models.Recipient) {
	batch := p.runBatch(ctx, run, index, recipients)

	run.mu.Lock()
	run.sent += batch.Sent
	run.failed += batch.Failed
	run.results[index] = batch
	run.mu.Unlock()

	p.notifier.NotifyProgress(run.campaign.UserID, notify.Event{
		Type:       notify.EventCampaignBatchDone,
		CampaignID: run.campaign.ID,
		Sent:       batch.Sent,
		Failed:     batch.Failed,
		Total:      len(recipients),
	})
}

// runBatch drives one batch's recipients. A panic out of the send path
// (provider client, composer) must never take the process down; it is
// contained here and the batch's unprocessed units are attributed as failed.
func (p *Pipeline) runBatch(ctx context.Context, run *campaignRun, index int, recipients []models.Recipient) (batch BatchResult) {
	batch.Index = index
	processed := 0

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		p.logger.Error("batch aborted by panic",
			zap.String("campaign_id", run.campaign.ID),
			zap.Int("batch", index),
			zap.Any("panic", r))

		for _, recipient := range recipients[processed:] {
			batch.Failed++
			p.status.RecordFailed(run.campaign.ID)

			run.mu.Lock()
			run.failures = append(run.failures, FailedRecipient{
				Recipient: recipient.Address,
				Error:     fmt.Sprintf("batch aborted: %v", r),
			})
			run.mu.Unlock()
		}
	}()

	for _, recipient := range recipients {
		if ctx.Err() != nil {
			break
		}

		p.limiter.wait(ctx)

		msg := p.composer.Compose(run.campaign, recipient)
		outcome := p.sendWithRetry(ctx, run.account.ID, msg, run.creds, run.campaign.MaxRetriesPerEmail)

		if outcome.err == nil {
			batch.Sent++
			p.status.RecordSent(run.campaign.ID)
			if err := p.quota.Record(ctx, run.campaign.UserID, quota.CostPerMessage); err != nil {
				p.logger.Warn("failed to record quota consumption",
					zap.String("campaign_id", run.campaign.ID),
					zap.Error(err))
			}
			processed++
			continue
		}

		// A cancelled unit is neither sent nor failed; it stays pending.
		if errors.Is(outcome.err, context.Canceled) {
			break
		}

		batch.Failed++
		p.status.RecordFailed(run.campaign.ID)
		p.recordFailure(ctx, run, recipient, outcome)
		processed++
	}

	return batch
}

func (p *Pipeline) recordFailure(ctx context.Context, run *campaignRun, recipient models.Recipient, outcome sendOutcome) {
	failure := FailedRecipient{
		Recipient: recipient.Address,
		Error:     outcome.err.Error(),
		Attempts:  outcome.attempts,
		Permanent: outcome.classification.Permanent,
	}

	run.mu.Lock()
	run.failures = append(run.failures, failure)
	run.mu.Unlock()

	p.logger.Warn("delivery failed",
		zap.String("campaign_id", run.campaign.ID),
		zap.String("recipient", recipient.Address),
		zap.Int("attempts", outcome.attempts),
		zap.String("category", string(outcome.classification.Category)),
		zap.Error(outcome.err))

	// An open breaker means nothing was attempted for this unit; it can be
	// retried wholesale once the circuit recovers, so it is not a dead
	// letter.
	if outcome.breakerOpen {
		return
	}

	entry := &deadletter.Entry{
		ID:                uuid.New().String(),
		CampaignID:        run.campaign.ID,
		AccountID:         run.account.ID,
		Recipient:         recipient.Address,
		Reason:            string(outcome.classification.Category),
		FinalError:        outcome.err.Error(),
		RetryCount:        outcome.attempts - 1,
		NeedsManualReview: outcome.classification.Permanent,
		CreatedAt:         time.Now(),
	}
	if err := p.deadletters.Add(ctx, entry); err != nil {
		p.logger.Error("failed to dead-letter recipient",
			zap.String("campaign_id", run.campaign.ID),
			zap.String("recipient", recipient.Address),
			zap.Error(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, run *campaignRun) *CampaignResult {
	state := models.CampaignCompleted
	if ctx.Err() != nil {
		state = models.CampaignCancelled
	}
	p.status.Complete(run.campaign.ID, state)

	run.mu.Lock()
	result := &CampaignResult{
		CampaignID:       run.campaign.ID,
		State:            state,
		Total:            len(run.campaign.Recipients),
		Sent:             run.sent,
		Failed:           run.failed,
		FailedRecipients: run.failures,
		Batches:          run.results,
	}
	run.mu.Unlock()

	if status, ok := p.status.GetCampaignStatus(run.campaign.ID); ok {
		result.State = status.State
	}

	p.notifier.NotifyProgress(run.campaign.UserID, notify.Event{
		Type:       notify.EventCampaignCompleted,
		CampaignID: run.campaign.ID,
		Sent:       result.Sent,
		Failed:     result.Failed,
		Total:      result.Total,
	})

	p.logger.Info("campaign finished",
		zap.String("campaign_id", run.campaign.ID),
		zap.String("state", string(result.State)),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))

	return result
}

func (p *Pipeline) applyDefaults(campaign *models.Campaign) {
	if campaign.BatchSize <= 0 {
		campaign.BatchSize = p.cfg.DefaultBatchSize
	}
	if campaign.MaxConcurrentBatches <= 0 {
		campaign.MaxConcurrentBatches = p.cfg.DefaultMaxConcurrent
	}
	if campaign.DelayBetweenBatches < 0 {
		campaign.DelayBetweenBatches = 0
	} else if campaign.DelayBetweenBatches == 0 {
		campaign.DelayBetweenBatches = p.cfg.DefaultBatchDelay
	}
	if campaign.MaxRetriesPerEmail <= 0 {
		campaign.MaxRetriesPerEmail = p.cfg.DefaultMaxRetries
	}
}

// partitionRecipients splits recipients into batches of at most size; the
// final batch holds the remainder.
func partitionRecipients(recipients []models.Recipient, size int) [][]models.Recipient {
	if size <= 0 {
		size = len(recipients)
	}

	var batches [][]models.Recipient
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}

// sleepCtx sleeps for d or until the context is cancelled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

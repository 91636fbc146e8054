package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/covecrm/mailengine/internal/models"
)

// StatusTracker holds the live progress of running campaigns and the cancel
// hooks to stop them. All methods are safe for concurrent use.
type StatusTracker struct {
	mu       sync.Mutex
	statuses map[string]*models.CampaignStatus
	cancels  map[string]context.CancelFunc
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		statuses: make(map[string]*models.CampaignStatus),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Register starts tracking a campaign and stores its cancel hook.
func (t *StatusTracker) Register(campaignID string, total int, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statuses[campaignID] = &models.CampaignStatus{
		CampaignID: campaignID,
		State:      models.CampaignRunning,
		Total:      total,
		Pending:    total,
		StartedAt:  time.Now(),
	}
	t.cancels[campaignID] = cancel
}

// RecordSent counts one successful delivery.
func (t *StatusTracker) RecordSent(campaignID string) {
	t.record(campaignID, func(s *models.CampaignStatus) { s.Sent++ })
}

// RecordFailed counts one exhausted delivery.
func (t *StatusTracker) RecordFailed(campaignID string) {
	t.record(campaignID, func(s *models.CampaignStatus) { s.Failed++ })
}

func (t *StatusTracker) record(campaignID string, apply func(*models.CampaignStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[campaignID]
	if !ok {
		return
	}

	apply(status)
	status.Pending = status.Total - status.Sent - status.Failed
	if status.Total > 0 {
		status.PercentComplete = float64(status.Sent+status.Failed) / float64(status.Total) * 100
	}
}

// Complete marks a campaign's terminal state and drops its cancel hook.
func (t *StatusTracker) Complete(campaignID string, state models.CampaignState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[campaignID]
	if !ok {
		return
	}

	// A cancelled campaign stays cancelled even if workers finish after.
	if status.State != models.CampaignCancelled {
		status.State = state
	}
	now := time.Now()
	status.CompletedAt = &now
	delete(t.cancels, campaignID)
}

// GetCampaignStatus returns a copy of the campaign's progress.
func (t *StatusTracker) GetCampaignStatus(campaignID string) (*models.CampaignStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[campaignID]
	if !ok {
		return nil, false
	}

	copied := *status
	return &copied, true
}

// CancelCampaign stops a running campaign. In-flight sends finish; no new
// ones start. Returns false for unknown or already finished campaigns.
func (t *StatusTracker) CancelCampaign(campaignID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancel, ok := t.cancels[campaignID]
	if !ok {
		return false
	}

	t.statuses[campaignID].State = models.CampaignCancelled
	delete(t.cancels, campaignID)
	cancel()
	return true
}

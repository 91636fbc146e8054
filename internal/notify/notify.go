// Package notify is the fire-and-forget progress sink. Notifier failures are
// logged and swallowed; they must never fail a sync or send operation.
package notify

import (
	"time"

	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/websocket"
)

// Event types pushed to clients.
const (
	EventQuickLoadCompleted   = "sync.quick_load.completed"
	EventBackfillProgress     = "sync.backfill.progress"
	EventIncrementalCompleted = "sync.incremental.completed"
	EventCampaignBatchDone    = "campaign.batch.completed"
	EventCampaignCompleted    = "campaign.completed"
)

// Event is one progress notification.
type Event struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id,omitempty"`
	Folder     string    `json:"folder,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Ingested   int       `json:"ingested,omitempty"`
	Remaining  int       `json:"remaining,omitempty"`
	Sent       int       `json:"sent,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Total      int       `json:"total,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier delivers progress events to a user.
type Notifier interface {
	NotifyProgress(userID string, event Event)
}

// HubNotifier pushes events over the websocket hub.
type HubNotifier struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

func NewHubNotifier(hub *websocket.Hub, logger *zap.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, logger: logger}
}

func (n *HubNotifier) NotifyProgress(userID string, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	if err := n.hub.SendJSON(userID, event); err != nil {
		n.logger.Warn("failed to push progress event",
			zap.String("user_id", userID),
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) NotifyProgress(string, Event) {}

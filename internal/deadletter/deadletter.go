// Package deadletter records permanently failed delivery units for manual
// inspection and replay. Entries are only ever removed by explicit operator
// action.
package deadletter

import (
	"context"
	"sync"
	"time"
)

// Entry is one permanently failed unit of work with enough context to replay
// it by hand.
type Entry struct {
	ID                string    `json:"id"`
	CampaignID        string    `json:"campaign_id"`
	AccountID         string    `json:"account_id"`
	Recipient         string    `json:"recipient"`
	Reason            string    `json:"reason"`
	FinalError        string    `json:"final_error"`
	RetryCount        int       `json:"retry_count"`
	NeedsManualReview bool      `json:"needs_manual_review"`
	Payload           []byte    `json:"payload,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store persists dead-letter entries.
type Store interface {
	Add(ctx context.Context, entry *Entry) error
	List(ctx context.Context, campaignID string) ([]*Entry, error)
	Remove(ctx context.Context, id string) error
}

// MemoryStore is the in-process store used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Add(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	s.entries[entry.ID] = &copied
	return nil
}

// List returns entries for one campaign, or all entries when campaignID is
// empty.
func (s *MemoryStore) List(_ context.Context, campaignID string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Entry
	for _, entry := range s.entries {
		if campaignID != "" && entry.CampaignID != campaignID {
			continue
		}
		copied := *entry
		result = append(result, &copied)
	}
	return result, nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

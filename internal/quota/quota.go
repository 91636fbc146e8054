// Package quota tracks per-user daily send-unit consumption. Counters are
// keyed by (user, UTC day) so the daily rollover is just a key change; the
// redis store additionally expires old keys.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CostPerMessage is the estimated quota units one outbound message consumes.
const CostPerMessage = 2

// Store is the per-key counter abstraction shared by the tracker. Updates
// must be atomic per key; independent keys need no coordination.
type Store interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// MemoryStore is the in-process store; also the test double.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]int64)}
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += delta
	return s.counters[key], nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// Tracker answers "can this campaign still fit in today's quota" and records
// actual consumption after each successful send.
type Tracker struct {
	store      Store
	dailyLimit int64
	now        func() time.Time
}

// NewTracker creates a tracker over the given store with a per-user daily
// unit limit.
func NewTracker(store Store, dailyLimit int64) *Tracker {
	return &Tracker{
		store:      store,
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
}

// EstimateCampaign returns the up-front unit estimate for a recipient count.
func EstimateCampaign(recipients int) int64 {
	return int64(recipients) * CostPerMessage
}

// Used returns the units consumed by the user today.
func (t *Tracker) Used(ctx context.Context, userID string) (int64, error) {
	used, err := t.store.Get(ctx, t.key(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return used, nil
}

// Remaining returns the units the user has left today.
func (t *Tracker) Remaining(ctx context.Context, userID string) (int64, error) {
	used, err := t.Used(ctx, userID)
	if err != nil {
		return 0, err
	}

	remaining := t.dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CanConsume reports whether `estimate` units still fit in today's quota.
// This is the campaign fail-fast guard; it does not reserve anything.
func (t *Tracker) CanConsume(ctx context.Context, userID string, estimate int64) (bool, error) {
	remaining, err := t.Remaining(ctx, userID)
	if err != nil {
		return false, err
	}
	return estimate <= remaining, nil
}

// Record adds consumed units to today's counter.
func (t *Tracker) Record(ctx context.Context, userID string, units int64) error {
	if _, err := t.store.IncrBy(ctx, t.key(userID), units); err != nil {
		return fmt.Errorf("failed to record quota usage: %w", err)
	}
	return nil
}

func (t *Tracker) key(userID string) string {
	return fmt.Sprintf("quota:%s:%s", userID, t.now().UTC().Format("2006-01-02"))
}

package mailsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/connector"
	"github.com/covecrm/mailengine/internal/models"
)

type fakeLister struct {
	accounts []*models.Account
	err      error
}

func (f *fakeLister) ListAccounts(context.Context) ([]*models.Account, error) {
	return f.accounts, f.err
}

func TestSweepSyncsOnlyStaleAccounts(t *testing.T) {
	fetcher := &fakeFetcher{msgs: make(map[string][]connector.RawMessage)}
	seedFolder(fetcher, "INBOX", 1, 10)
	store := newFakeStore()
	store.watermarks["acct-stale|INBOX"] = 5

	engine := newTestEngine(store, fetcher, Config{Folders: []string{"INBOX"}})

	recent := time.Now()
	old := time.Now().Add(-time.Hour)
	lister := &fakeLister{accounts: []*models.Account{
		{ID: "acct-fresh", UserID: "user-1", EmailAddress: "fresh@example.com", LastSyncAt: &recent},
		{ID: "acct-stale", UserID: "user-1", EmailAddress: "stale@example.com", LastSyncAt: &old},
	}}

	scheduler := NewScheduler(engine, lister, time.Minute, 5*time.Minute, zap.NewNop())
	scheduler.Sweep(context.Background())

	// Only the stale account fetched anything.
	require.Equal(t, 1, fetcher.fetchSinceCalls)
	assert.Equal(t, uint32(10), store.watermark("acct-stale", "INBOX"))
	assert.Equal(t, uint32(0), store.watermark("acct-fresh", "INBOX"))
}

func TestSweepSurvivesAccountFailure(t *testing.T) {
	fetcher := &fakeFetcher{msgs: make(map[string][]connector.RawMessage)}
	seedFolder(fetcher, "INBOX", 1, 10)
	fetcher.failRange = func(_ string, from, _ uint32) error {
		if from == 6 {
			return fmt.Errorf("mailbox unavailable")
		}
		return nil
	}
	store := newFakeStore()
	store.watermarks["acct-a|INBOX"] = 5
	store.watermarks["acct-b|INBOX"] = 8

	engine := newTestEngine(store, fetcher, Config{Folders: []string{"INBOX"}})

	lister := &fakeLister{accounts: []*models.Account{
		{ID: "acct-a", UserID: "user-1", EmailAddress: "a@example.com"},
		{ID: "acct-b", UserID: "user-1", EmailAddress: "b@example.com"},
	}}

	scheduler := NewScheduler(engine, lister, time.Minute, 5*time.Minute, zap.NewNop())
	scheduler.Sweep(context.Background())

	// acct-a's fetch failed but acct-b still synced.
	assert.Equal(t, uint32(5), store.watermark("acct-a", "INBOX"))
	assert.Equal(t, uint32(10), store.watermark("acct-b", "INBOX"))
}

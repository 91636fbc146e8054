package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entry := &Entry{
		ID:                "dl-1",
		CampaignID:        "camp-1",
		AccountID:         "acct-1",
		Recipient:         "bounce@example.com",
		Reason:            "retries exhausted",
		FinalError:        "550 no such mailbox",
		RetryCount:        3,
		NeedsManualReview: true,
		CreatedAt:         time.Now(),
	}

	require.NoError(t, store.Add(ctx, entry))
	require.NoError(t, store.Add(ctx, &Entry{ID: "dl-2", CampaignID: "camp-2", Recipient: "other@example.com"}))

	entries, err := store.List(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bounce@example.com", entries[0].Recipient)
	assert.True(t, entries[0].NeedsManualReview)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Entries stay until explicitly removed.
	require.NoError(t, store.Remove(ctx, "dl-1"))
	entries, err = store.List(ctx, "camp-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

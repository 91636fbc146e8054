// Package mailsync implements UID-watermark mailbox synchronization: a
// bounded quick initial load, background historical backfill, and cheap
// incremental catch-up. All work for one (account, folder) pair is
// serialized; different pairs proceed concurrently.
package mailsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/connector"
	"github.com/covecrm/mailengine/internal/models"
	"github.com/covecrm/mailengine/internal/notify"
	"github.com/covecrm/mailengine/internal/parser"
)

// Store is the persistence surface the engine needs. *db.Store satisfies it.
type Store interface {
	BulkUpsertMessages(ctx context.Context, messages []*models.EmailMessage) error
	GetWatermark(ctx context.Context, accountID, folderName string) (uint32, bool, error)
	SetWatermark(ctx context.Context, accountID, folderName string, uid uint32) error
	UpdateAccountLastSync(ctx context.Context, accountID string, syncedAt time.Time) error
}

// ParseFunc turns raw message bytes into structured fields.
type ParseFunc func(raw []byte) (*parser.ParsedMessage, error)

// Config holds the engine's tuning knobs.
type Config struct {
	// QuickLoadWindow is how many of the newest messages the initial load
	// fetches per folder.
	QuickLoadWindow int
	// BackfillBatchSize is how many messages each historical batch covers.
	BackfillBatchSize int
	// Folders is the set of folders synced for every account.
	Folders []string
}

// Engine drives mailbox synchronization for connected accounts.
type Engine struct {
	store    Store
	fetcher  connector.Fetcher
	notifier notify.Notifier
	logger   *zap.Logger
	cfg      Config
	parse    ParseFunc
	locks    *keyedLocks
}

func NewEngine(store Store, fetcher connector.Fetcher, notifier notify.Notifier, logger *zap.Logger, cfg Config) *Engine {
	if cfg.QuickLoadWindow <= 0 {
		cfg.QuickLoadWindow = 50
	}
	if cfg.BackfillBatchSize <= 0 {
		cfg.BackfillBatchSize = 100
	}
	if len(cfg.Folders) == 0 {
		cfg.Folders = []string{"INBOX", "Sent"}
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}

	return &Engine{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		parse:    parser.ParseRawMessage,
		locks:    newKeyedLocks(),
	}
}

// SetParseFunc overrides the message parser. Used by tests.
func (e *Engine) SetParseFunc(parse ParseFunc) {
	e.parse = parse
}

// QuickLoadResult is what an initial load ingested.
type QuickLoadResult struct {
	Records []*models.EmailMessage
	Count   int
}

// QuickInitialLoad fetches the newest window of each configured folder,
// stores it, and sets the folder watermark to the highest UID seen. A folder
// that fails to load is logged and skipped so the rest of the account still
// comes up.
func (e *Engine) QuickInitialLoad(ctx context.Context, account *models.Account) (*QuickLoadResult, error) {
	result := &QuickLoadResult{}

	for _, folderName := range e.cfg.Folders {
		records, err := e.quickLoadFolder(ctx, account, folderName)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("quick load failed for folder",
				zap.String("account_id", account.ID),
				zap.String("folder", folderName),
				zap.Error(err))
			continue
		}
		result.Records = append(result.Records, records...)
	}

	result.Count = len(result.Records)

	if err := e.store.UpdateAccountLastSync(ctx, account.ID, time.Now()); err != nil {
		e.logger.Warn("failed to update account last sync",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}

	return result, nil
}

func (e *Engine) quickLoadFolder(ctx context.Context, account *models.Account, folderName string) ([]*models.EmailMessage, error) {
	unlock := e.locks.lock(lockKey(account.ID, folderName))
	defer unlock()

	highest, err := e.fetcher.FetchHighestUID(ctx, account, folderName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve highest uid: %w", err)
	}
	if highest == 0 {
		return nil, nil
	}

	from := uint32(1)
	if highest > uint32(e.cfg.QuickLoadWindow) {
		from = highest - uint32(e.cfg.QuickLoadWindow) + 1
	}

	raws, err := e.fetcher.FetchRange(ctx, account, folderName, from, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch range %d:%d: %w", from, highest, err)
	}

	records := e.buildRecords(account, folderName, raws)
	if len(records) > 0 {
		if err := e.store.BulkUpsertMessages(ctx, records); err != nil {
			return nil, fmt.Errorf("failed to store messages: %w", err)
		}
	}

	if err := e.store.SetWatermark(ctx, account.ID, folderName, highest); err != nil {
		return nil, fmt.Errorf("failed to set watermark: %w", err)
	}

	e.notifier.NotifyProgress(account.UserID, notify.Event{
		Type:      notify.EventQuickLoadCompleted,
		AccountID: account.ID,
		Folder:    folderName,
		Ingested:  len(records),
	})

	return records, nil
}

// SyncHistoricalEmails walks each folder downward from its watermark in
// batches until UID 1, filling in history older than the quick load. The
// watermark is never touched here; a crash mid-backfill only costs
// re-fetching already-stored batches, which the upsert absorbs. A failed
// batch is logged and skipped so one bad range cannot wedge the backfill.
func (e *Engine) SyncHistoricalEmails(ctx context.Context, account *models.Account) error {
	for _, folderName := range e.cfg.Folders {
		watermark, ok, err := e.store.GetWatermark(ctx, account.ID, folderName)
		if err != nil {
			return fmt.Errorf("failed to read watermark for %s: %w", folderName, err)
		}
		if !ok || watermark <= 1 {
			continue
		}

		if err := e.backfillFolder(ctx, account, folderName, watermark); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) backfillFolder(ctx context.Context, account *models.Account, folderName string, watermark uint32) error {
	batch := uint32(e.cfg.BackfillBatchSize)

	end := watermark - 1
	for end >= 1 {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := uint32(1)
		if end > batch {
			start = end - batch + 1
		}

		ingested, err := e.backfillBatch(ctx, account, folderName, start, end)
		if err != nil {
			e.logger.Warn("backfill batch failed, skipping",
				zap.String("account_id", account.ID),
				zap.String("folder", folderName),
				zap.Uint32("from", start),
				zap.Uint32("to", end),
				zap.Error(err))
		} else {
			e.notifier.NotifyProgress(account.UserID, notify.Event{
				Type:      notify.EventBackfillProgress,
				AccountID: account.ID,
				Folder:    folderName,
				Ingested:  ingested,
				Remaining: int(start) - 1,
			})
		}

		end = start - 1
	}

	return nil
}

func (e *Engine) backfillBatch(ctx context.Context, account *models.Account, folderName string, start, end uint32) (int, error) {
	unlock := e.locks.lock(lockKey(account.ID, folderName))
	defer unlock()

	raws, err := e.fetcher.FetchRange(ctx, account, folderName, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch range %d:%d: %w", start, end, err)
	}

	records := e.buildRecords(account, folderName, raws)
	if len(records) == 0 {
		return 0, nil
	}

	if err := e.store.BulkUpsertMessages(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to store messages: %w", err)
	}

	return len(records), nil
}

// SyncIncrementalByUID fetches only messages strictly above each folder's
// watermark, stores them, and advances the watermark to the highest UID
// observed. Folders without a watermark are skipped; the quick initial load
// establishes it. The account's last-sync timestamp is updated only when
// every folder synced cleanly, so a failed folder stays eligible for the
// next sweep.
func (e *Engine) SyncIncrementalByUID(ctx context.Context, account *models.Account) error {
	var firstErr error
	total := 0

	for _, folderName := range e.cfg.Folders {
		ingested, err := e.incrementalFolder(ctx, account, folderName)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("incremental sync failed for folder",
				zap.String("account_id", account.ID),
				zap.String("folder", folderName),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += ingested
	}

	if firstErr != nil {
		return firstErr
	}

	if err := e.store.UpdateAccountLastSync(ctx, account.ID, time.Now()); err != nil {
		e.logger.Warn("failed to update account last sync",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}

	e.notifier.NotifyProgress(account.UserID, notify.Event{
		Type:      notify.EventIncrementalCompleted,
		AccountID: account.ID,
		Ingested:  total,
	})

	return nil
}

func (e *Engine) incrementalFolder(ctx context.Context, account *models.Account, folderName string) (int, error) {
	unlock := e.locks.lock(lockKey(account.ID, folderName))
	defer unlock()

	watermark, ok, err := e.store.GetWatermark(ctx, account.ID, folderName)
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !ok {
		return 0, nil
	}

	raws, err := e.fetcher.FetchSince(ctx, account, folderName, watermark)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch messages above uid %d: %w", watermark, err)
	}
	if len(raws) == 0 {
		return 0, nil
	}

	records := e.buildRecords(account, folderName, raws)
	if len(records) > 0 {
		if err := e.store.BulkUpsertMessages(ctx, records); err != nil {
			return 0, fmt.Errorf("failed to store messages: %w", err)
		}
	}

	highest := watermark
	for _, raw := range raws {
		if raw.UID > highest {
			highest = raw.UID
		}
	}
	if highest > watermark {
		if err := e.store.SetWatermark(ctx, account.ID, folderName, highest); err != nil {
			return 0, fmt.Errorf("failed to advance watermark: %w", err)
		}
	}

	return len(records), nil
}

// SyncIfStale runs an incremental sync only when the account has not synced
// within staleness. Returns whether a sync was attempted.
func (e *Engine) SyncIfStale(ctx context.Context, account *models.Account, staleness time.Duration) (bool, error) {
	if account.LastSyncAt != nil && time.Since(*account.LastSyncAt) < staleness {
		return false, nil
	}

	return true, e.SyncIncrementalByUID(ctx, account)
}

// buildRecords parses raw messages into storable records. A message that
// fails to parse is logged and skipped; one malformed message must not block
// the batch around it.
func (e *Engine) buildRecords(account *models.Account, folderName string, raws []connector.RawMessage) []*models.EmailMessage {
	records := make([]*models.EmailMessage, 0, len(raws))

	for _, raw := range raws {
		parsed, err := e.parse(raw.Raw)
		if err != nil {
			e.logger.Warn("skipping unparseable message",
				zap.String("account_id", account.ID),
				zap.String("folder", folderName),
				zap.Uint32("uid", raw.UID),
				zap.Error(err))
			continue
		}

		remoteID := parsed.MessageID
		if remoteID == "" {
			// No Message-Id header; synthesize a stable key from position.
			remoteID = fmt.Sprintf("uid:%s:%d", folderName, raw.UID)
		}

		record := &models.EmailMessage{
			AccountID:   account.ID,
			CompanyID:   account.CompanyID,
			RemoteID:    remoteID,
			FolderName:  folderName,
			UID:         raw.UID,
			Direction:   MessageDirection(parsed.From, account.EmailAddress, folderName),
			FromAddress: parsed.From,
			ToAddresses: parsed.To,
			CCAddresses: parsed.Cc,
			Subject:     parsed.Subject,
			BodyText:    parsed.BodyText,
			BodyHTML:    parsed.BodyHTML,
			IsRead:      hasSeenFlag(raw.Flags),
		}

		if !parsed.Date.IsZero() {
			date := parsed.Date
			record.SentAt = &date
			if record.Direction == models.DirectionIncoming {
				record.ReceivedAt = &date
			}
		}

		records = append(records, record)
	}

	return records
}

func hasSeenFlag(flags []string) bool {
	for _, flag := range flags {
		if strings.EqualFold(flag, "\\Seen") {
			return true
		}
	}
	return false
}

func lockKey(accountID, folderName string) string {
	return accountID + "\x00" + folderName
}

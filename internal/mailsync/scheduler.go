package mailsync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/models"
)

// AccountLister enumerates the accounts a sweep should consider.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
}

// Scheduler periodically sweeps all accounts and incrementally syncs the
// stale ones. One account failing never stops the sweep.
type Scheduler struct {
	engine    *Engine
	accounts  AccountLister
	interval  time.Duration
	staleness time.Duration
	logger    *zap.Logger
}

func NewScheduler(engine *Engine, accounts AccountLister, interval, staleness time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:    engine,
		accounts:  accounts,
		interval:  interval,
		staleness: staleness,
		logger:    logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep syncs every account whose last sync is older than the staleness
// threshold.
func (s *Scheduler) Sweep(ctx context.Context) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		s.logger.Error("failed to list accounts for sweep", zap.Error(err))
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}

		synced, err := s.engine.SyncIfStale(ctx, account, s.staleness)
		if err != nil {
			s.logger.Warn("scheduled sync failed",
				zap.String("account_id", account.ID),
				zap.Error(err))
			continue
		}
		if synced {
			s.logger.Debug("account synced", zap.String("account_id", account.ID))
		}
	}
}

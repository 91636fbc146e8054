package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/db"
)

// handleSync triggers a sync for one account. The mode query parameter picks
// the flavor: "quick" runs the bounded initial load, "backfill" starts the
// historical walk in the background, anything else runs an incremental
// catch-up if the account's last sync is older than the staleness threshold.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("failed to load account", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch r.URL.Query().Get("mode") {
	case "quick":
		result, err := s.engine.QuickInitialLoad(ctx, account)
		if err != nil {
			s.logger.Error("quick load failed",
				zap.String("account_id", account.ID),
				zap.Error(err))
			respondError(w, http.StatusBadGateway, "sync failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"account_id": account.ID,
			"ingested":   result.Count,
		})

	case "backfill":
		// Historical sync can take minutes; run it detached from this
		// request's lifetime and report progress over the websocket.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()

			if err := s.engine.SyncHistoricalEmails(ctx, account); err != nil {
				s.logger.Warn("backfill stopped",
					zap.String("account_id", account.ID),
					zap.Error(err))
			}
		}()
		respondJSON(w, http.StatusAccepted, map[string]any{
			"account_id": account.ID,
			"started":    true,
		})

	default:
		// Incremental catch-up only runs when the account is actually
		// stale; a recently swept account is reported as-is.
		synced, err := s.engine.SyncIfStale(ctx, account, s.targetedStaleness)
		if err != nil {
			s.logger.Error("incremental sync failed",
				zap.String("account_id", account.ID),
				zap.Error(err))
			respondError(w, http.StatusBadGateway, "sync failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"account_id": account.ID,
			"synced":     synced,
		})
	}
}

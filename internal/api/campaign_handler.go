package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/db"
	"github.com/covecrm/mailengine/internal/models"
)

// handleCreateCampaign validates and quota-checks a campaign synchronously,
// then runs it in the background. The caller polls the status endpoint or
// listens on the websocket for progress.
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var campaign models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&campaign); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := s.store.GetAccount(r.Context(), campaign.AccountID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("failed to load account", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}
	campaign.UserID = account.UserID
	campaign.CompanyID = account.CompanyID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 6*time.Hour)
		defer cancel()

		if _, err := s.pipeline.ProcessBulkEmail(ctx, account, &campaign); err != nil {
			s.logger.Warn("campaign rejected",
				zap.String("campaign_id", campaign.ID),
				zap.Error(err))
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"campaign_id": campaign.ID})
}

func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.status.GetCampaignStatus(r.PathValue("id"))
	if !ok {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")

	if !s.status.CancelCampaign(campaignID) {
		respondError(w, http.StatusConflict, "campaign is not running")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"campaign_id": campaignID,
		"state":       models.CampaignCancelled,
	})
}

func (s *Server) handleCampaignDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deadletters.List(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to list dead letters", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

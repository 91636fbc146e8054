// Package api is the HTTP surface: campaign submission and control, manual
// sync triggers, dead-letter inspection, and the websocket upgrade for
// progress events.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/deadletter"
	"github.com/covecrm/mailengine/internal/mailsync"
	"github.com/covecrm/mailengine/internal/models"
	"github.com/covecrm/mailengine/internal/outbound"
	ws "github.com/covecrm/mailengine/internal/websocket"
)

// AccountStore is the slice of persistence the handlers need. *db.Store
// satisfies it.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// Server wires the engine and pipeline to HTTP handlers.
type Server struct {
	store       AccountStore
	engine      *mailsync.Engine
	pipeline    *outbound.Pipeline
	status      *outbound.StatusTracker
	deadletters deadletter.Store
	hub         *ws.Hub
	logger      *zap.Logger

	// targetedStaleness gates on-demand incremental syncs: accounts synced
	// more recently than this are left alone.
	targetedStaleness time.Duration
}

func NewServer(store AccountStore, engine *mailsync.Engine, pipeline *outbound.Pipeline, status *outbound.StatusTracker, deadletters deadletter.Store, hub *ws.Hub, targetedStaleness time.Duration, logger *zap.Logger) *Server {
	return &Server{
		store:             store,
		engine:            engine,
		pipeline:          pipeline,
		status:            status,
		deadletters:       deadletters,
		hub:               hub,
		targetedStaleness: targetedStaleness,
		logger:            logger,
	}
}

// Routes returns the server's handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/v1/accounts/{id}/sync", s.handleSync)

	mux.HandleFunc("POST /api/v1/campaigns", s.handleCreateCampaign)
	mux.HandleFunc("GET /api/v1/campaigns/{id}/status", s.handleCampaignStatus)
	mux.HandleFunc("POST /api/v1/campaigns/{id}/cancel", s.handleCancelCampaign)
	mux.HandleFunc("GET /api/v1/campaigns/{id}/deadletters", s.handleCampaignDeadLetters)

	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

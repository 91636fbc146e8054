package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// This server runs behind a reverse proxy in a trusted environment.
		return true
	},
}

// handleWebSocket upgrades the connection and registers it with the hub so
// the client receives sync and campaign progress events. The user is
// identified by query parameter; browsers cannot set custom headers on
// websocket connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := s.hub.Register(userID, conn)

	// Drain reads so ping/pong and close frames are processed; unregister
	// when the peer goes away.
	go func() {
		defer s.hub.Unregister(userID, client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

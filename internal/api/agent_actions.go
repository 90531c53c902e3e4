package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finbuddy/lifeline/backend/internal/session"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentActionsHandler provides REST endpoints for supervisor control
// actions on agents
type AgentActionsHandler struct {
	agentHub   *websocket.AgentHub
	negotiator *session.Negotiator
	logger     zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(agentHub *websocket.AgentHub, negotiator *session.Negotiator, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		agentHub:   agentHub,
		negotiator: negotiator,
		logger:     logger.With().Str("component", "agent_actions").Logger(),
	}
}

// ForceEndSession handles POST /api/agents/{agentId}/sessions/{roomName}/end.
// The session settles server-side first; the push to the agent is best
// effort on top.
func (h *AgentActionsHandler) ForceEndSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	roomName := chi.URLParam(r, "roomName")

	if agentID == "" || roomName == "" {
		http.Error(w, "agentId and roomName are required", http.StatusBadRequest)
		return
	}

	sr, err := h.negotiator.EndByRoom(roomName, "force_ended")
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "no session for this room", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("room_name", roomName).Msg("force end failed")
		http.Error(w, "force end failed", http.StatusInternalServerError)
		return
	}

	// Tell the agent's client to tear down its call UI
	h.agentHub.ForceEndCall(agentID, roomName)

	h.logger.Info().
		Str("agent_id", agentID).
		Str("room_name", roomName).
		Msg("force-ended session via API")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "session ended",
		"agentId":  agentID,
		"roomName": roomName,
		"status":   sr.Status,
	})
}

// Logout handles POST /api/agents/{agentId}/logout
func (h *AgentActionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	// Force-disconnect the agent (hub handles presence cleanup)
	ok := h.agentHub.ForceDisconnect(agentID)
	if !ok {
		http.Error(w, "agent not connected", http.StatusNotFound)
		return
	}

	h.logger.Info().
		Str("agent_id", agentID).
		Msg("force-disconnected agent via API")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "agent logged out",
		"agentId": agentID,
	})
}

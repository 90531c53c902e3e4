package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/finbuddy/lifeline/backend/internal/session"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentHistoryHandler provides REST endpoints for an agent's session
// history
type AgentHistoryHandler struct {
	negotiator *session.Negotiator
	logger     zerolog.Logger
}

// NewAgentHistoryHandler creates a new AgentHistoryHandler
func NewAgentHistoryHandler(negotiator *session.Negotiator, logger zerolog.Logger) *AgentHistoryHandler {
	return &AgentHistoryHandler{
		negotiator: negotiator,
		logger:     logger.With().Str("component", "agent_history_handler").Logger(),
	}
}

// GetHistory returns the agent's settled sessions, newest first.
// GET /api/agents/{agentId}/history?status=completed narrows to one
// lifecycle state.
func (h *AgentHistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	sessions, err := h.negotiator.ListByAgent(agentID)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to list agent sessions")
		http.Error(w, "failed to retrieve history", http.StatusInternalServerError)
		return
	}

	want := types.SessionStatus(r.URL.Query().Get("status"))
	history := make([]types.SessionRequest, 0, len(sessions))
	for _, sr := range sessions {
		if want != "" {
			if sr.Status == want {
				history = append(history, sr)
			}
			continue
		}
		if sr.Status.Terminal() {
			history = append(history, sr)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt.After(history[j].CreatedAt)
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

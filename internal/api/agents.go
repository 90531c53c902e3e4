package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentsHandler provides REST endpoints over the live agent roster
type AgentsHandler struct {
	tracker *presence.Tracker
	logger  zerolog.Logger
}

// NewAgentsHandler creates a new AgentsHandler
func NewAgentsHandler(tracker *presence.Tracker, logger zerolog.Logger) *AgentsHandler {
	return &AgentsHandler{
		tracker: tracker,
		logger:  logger.With().Str("component", "agents_handler").Logger(),
	}
}

// ListAgents handles GET /api/agents. Each entry carries the durable
// presence row plus the live connection status.
func (h *AgentsHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.tracker.List()
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

// SetPresence handles POST /api/agents/{agentId}/presence. The same
// three-way split as the WebSocket presence_change path: offline wins,
// busy forces online, otherwise plain online.
func (h *AgentsHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Online      bool   `json:"online"`
		Busy        bool   `json:"busy"`
		DisplayName string `json:"displayName,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	switch {
	case !req.Online:
		h.tracker.SetOffline(agentID)
	case req.Busy:
		h.tracker.SetBusy(agentID, true)
	default:
		h.tracker.SetOnline(agentID, req.DisplayName)
	}

	updated, ok := h.tracker.Get(agentID)
	if !ok {
		http.Error(w, `{"error":"agent not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

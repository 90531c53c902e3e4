package api

import (
	"encoding/json"
	"net/http"

	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/rs/zerolog"
)

// RosterEntry represents a single agent in the roster payload
type RosterEntry struct {
	AgentID     string `json:"agentId"`
	DisplayName string `json:"displayName"`
}

// RosterHandler handles the roster registration endpoint
type RosterHandler struct {
	tracker *presence.Tracker
	logger  zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(tracker *presence.Tracker, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		tracker: tracker,
		logger:  logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRoster handles POST /internal/agents/roster. The staffing
// service pushes the known agent population so the dashboard shows
// off-shift agents as offline instead of not at all.
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	registered := 0
	for _, entry := range roster {
		if entry.AgentID == "" {
			continue
		}
		h.tracker.RegisterOffline(entry.AgentID, entry.DisplayName)
		registered++
	}

	h.logger.Info().Int("registered", registered).Msg("roster received")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int{"registered": registered})
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/auth"
	"github.com/finbuddy/lifeline/backend/internal/escalation"
	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/finbuddy/lifeline/backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AdminHandler handles operational endpoints: synthetic load, state
// resets, and a JSON stats snapshot
type AdminHandler struct {
	store    storage.Store
	tracker  *presence.Tracker
	hub      *websocket.Hub
	agentHub *websocket.AgentHub
	logger   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(store storage.Store, tracker *presence.Tracker, hub *websocket.Hub, agentHub *websocket.AgentHub, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		store:    store,
		tracker:  tracker,
		hub:      hub,
		agentHub: agentHub,
		logger:   logger,
	}
}

// RequireAdmin middleware — only admin role allowed
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSupervisorOrAdmin middleware — supervisor or admin role allowed
func RequireSupervisorOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || (claims.Role != "admin" && claims.Role != "supervisor") {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"supervisor or admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Urgency per emergency type for injected cases, mirroring the
// detector's severity table
var injectUrgency = map[string]int{
	"fraud":                       9,
	"stolen_card":                 9,
	"phishing_attack":             9,
	"lost_card":                   8,
	"suspicious_activity":         8,
	"account_locked":              7,
	"general_financial_emergency": 7,
}

var injectTypes = []string{
	"fraud", "stolen_card", "phishing_attack",
	"lost_card", "suspicious_activity",
	"account_locked", "general_financial_emergency",
}

// InjectCases handles POST /internal/admin/inject. It writes synthetic
// waiting cases (with their pending sessions) straight into the store
// for load and demo purposes.
func (h *AdminHandler) InjectCases(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count         int    `json:"count"`
		EmergencyType string `json:"emergencyType,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > 1000 {
		req.Count = 1000
	}
	if req.EmergencyType != "" {
		if _, known := injectUrgency[req.EmergencyType]; !known {
			http.Error(w, `{"error":"unknown emergency type"}`, http.StatusBadRequest)
			return
		}
	}

	injected := 0
	for i := 0; i < req.Count; i++ {
		etype := req.EmergencyType
		if etype == "" {
			etype = injectTypes[i%len(injectTypes)]
		}

		now := time.Now()
		userID := fmt.Sprintf("load-%s", uuid.New().String()[:8])
		roomName := fmt.Sprintf("emergency-%s-%s-%d", etype, userID, now.UnixMilli())

		c := types.Case{
			CaseID:        uuid.New().String(),
			UserID:        userID,
			Status:        types.CaseStatusWaiting,
			Urgency:       injectUrgency[etype],
			Reason:        "injected via admin",
			EmergencyType: etype,
			RoomName:      roomName,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := h.store.SaveCase(c); err != nil {
			h.logger.Error().Err(err).Msg("failed to inject case")
			continue
		}
		sr := types.SessionRequest{
			SessionID:     uuid.New().String(),
			CaseID:        c.CaseID,
			UserID:        userID,
			RoomName:      roomName,
			Status:        types.SessionStatusPending,
			Priority:      string(escalation.SeverityForUrgency(c.Urgency)),
			EmergencyType: etype,
			Description:   "injected via admin",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := h.store.SaveSession(sr); err != nil {
			h.logger.Error().Err(err).Msg("failed to inject session")
			continue
		}
		injected++
	}

	h.logger.Info().Int("injected", injected).Int("requested", req.Count).Msg("cases injected via admin")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  fmt.Sprintf("injected %d cases", injected),
		"injected": injected,
		"errors":   req.Count - injected,
	})
}

// ResetMemory clears the in-memory presence roster
func (h *AdminHandler) ResetMemory(w http.ResponseWriter, r *http.Request) {
	agentsCleared := h.tracker.Clear()

	h.logger.Info().
		Int("agents", agentsCleared).
		Msg("backend memory reset")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       "backend memory reset",
		"agentsCleared": agentsCleared,
	})
}

// Truncate wipes all store tables
func (h *AdminHandler) Truncate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate tables")
		http.Error(w, fmt.Sprintf(`{"error":"failed to truncate: %s"}`, err), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Msg("store tables truncated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "store tables truncated",
	})
}

// LogoffAll force-disconnects every connected agent and clears the
// presence roster
func (h *AdminHandler) LogoffAll(w http.ResponseWriter, r *http.Request) {
	disconnected := 0
	for _, a := range h.tracker.List() {
		if h.agentHub.ForceDisconnect(a.AgentID) {
			disconnected++
		}
	}
	agentsCleared := h.tracker.Clear()

	h.logger.Info().
		Int("disconnected", disconnected).
		Int("agents", agentsCleared).
		Msg("all agents logged off via admin")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       "all agents logged off",
		"disconnected":  disconnected,
		"agentsCleared": agentsCleared,
	})
}

// Stats handles GET /internal/admin/stats with a JSON snapshot of the
// live system
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	online, busy := h.tracker.Counts()

	stats := map[string]interface{}{
		"agentsOnline":     online,
		"agentsBusy":       busy,
		"agentsKnown":      len(h.tracker.List()),
		"agentClients":     h.agentHub.AgentCount(),
		"dashboardClients": h.hub.ClientCount(),
	}

	if waiting, err := h.store.ListCasesByStatus(types.CaseStatusWaiting); err == nil {
		stats["casesWaiting"] = len(waiting)
	}
	if pending, err := h.store.ListSessionsByStatus(types.SessionStatusPending); err == nil {
		stats["sessionsPending"] = len(pending)
	}
	if active, err := h.store.ListSessionsByStatus(types.SessionStatusActive); err == nil {
		stats["sessionsActive"] = len(active)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

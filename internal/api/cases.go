package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/auth"
	"github.com/finbuddy/lifeline/backend/internal/feed"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CaseHandler provides REST endpoints over the live case feed
type CaseHandler struct {
	feed        *feed.Service
	store       storage.Store
	stampWindow time.Duration
	logger      zerolog.Logger
}

// NewCaseHandler creates a new CaseHandler. stampWindow bounds how far
// back the case context lookup reaches.
func NewCaseHandler(feedSvc *feed.Service, store storage.Store, stampWindow time.Duration, logger zerolog.Logger) *CaseHandler {
	return &CaseHandler{
		feed:        feedSvc,
		store:       store,
		stampWindow: stampWindow,
		logger:      logger.With().Str("component", "case_handler").Logger(),
	}
}

// ListCases handles GET /api/cases
func (h *CaseHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.List()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list waiting cases")
		http.Error(w, `{"error":"failed to load feed"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []types.FeedEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetCase handles GET /api/cases/{caseId}
func (h *CaseHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")
	if caseID == "" {
		http.Error(w, "caseId is required", http.StatusBadRequest)
		return
	}

	c, err := h.feed.Get(caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"case not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("case_id", caseID).Msg("failed to get case")
		http.Error(w, `{"error":"failed to load case"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// GetCaseMessages handles GET /api/cases/{caseId}/messages. It returns
// the conversation context stamped onto the escalation.
func (h *CaseHandler) GetCaseMessages(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")
	if caseID == "" {
		http.Error(w, "caseId is required", http.StatusBadRequest)
		return
	}

	c, err := h.feed.Get(caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"case not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("case_id", caseID).Msg("failed to get case")
		http.Error(w, `{"error":"failed to load case"}`, http.StatusInternalServerError)
		return
	}

	msgs, err := h.store.ListRecentMessages(c.UserID, c.CreatedAt.Add(-h.stampWindow))
	if err != nil {
		h.logger.Error().Err(err).Str("case_id", caseID).Msg("failed to load case context")
		http.Error(w, `{"error":"failed to load messages"}`, http.StatusInternalServerError)
		return
	}

	stamped := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.RoomName == c.RoomName {
			stamped = append(stamped, m)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stamped)
}

// ClaimCase handles POST /api/cases/{caseId}/claim. Exactly one of N
// concurrent claims wins; losers get a 409 and refresh their view.
func (h *CaseHandler) ClaimCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")
	if caseID == "" {
		http.Error(w, "caseId is required", http.StatusBadRequest)
		return
	}

	var req struct {
		AgentID string `json:"agentId"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.AgentID == "" {
		if claims, ok := auth.GetUserFromContext(r.Context()); ok {
			req.AgentID = claims.Subject
		}
	}
	if req.AgentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	result, err := h.feed.Claim(caseID, req.AgentID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCaseConflict):
			http.Error(w, `{"error":"case already claimed"}`, http.StatusConflict)
		case errors.Is(err, feed.ErrAgentUnavailable):
			http.Error(w, `{"error":"agent is offline or busy"}`, http.StatusConflict)
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, `{"error":"case not found"}`, http.StatusNotFound)
		default:
			h.logger.Error().Err(err).Str("case_id", caseID).Msg("claim failed")
			http.Error(w, `{"error":"claim failed"}`, http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CloseCase handles POST /api/cases/{caseId}/close
func (h *CaseHandler) CloseCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")
	if caseID == "" {
		http.Error(w, "caseId is required", http.StatusBadRequest)
		return
	}

	c, err := h.feed.Close(caseID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, `{"error":"case not found"}`, http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, `{"error":"case already closed"}`, http.StatusConflict)
		default:
			h.logger.Error().Err(err).Str("case_id", caseID).Msg("close failed")
			http.Error(w, `{"error":"close failed"}`, http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finbuddy/lifeline/backend/internal/auth"
	"github.com/finbuddy/lifeline/backend/internal/session"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SessionHandler provides REST endpoints for session credentials and
// the client-driven parts of the session lifecycle
type SessionHandler struct {
	negotiator *session.Negotiator
	logger     zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(negotiator *session.Negotiator, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		negotiator: negotiator,
		logger:     logger.With().Str("component", "session_handler").Logger(),
	}
}

// IssueToken handles POST /api/sessions/token. Both participants call
// it with the same room name and their own identity; issuing a token
// never advances the session lifecycle.
func (h *SessionHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomName string `json:"roomName"`
		Identity string `json:"identity"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.RoomName == "" {
		http.Error(w, "roomName is required", http.StatusBadRequest)
		return
	}
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		if req.Identity == "" {
			req.Identity = claims.Subject
		}
		if req.Name == "" {
			req.Name = claims.Name
		}
	}
	if req.Identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}

	cred, sr, err := h.negotiator.IssueCredential(req.RoomName, req.Identity, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, `{"error":"no session for this room"}`, http.StatusNotFound)
		case errors.Is(err, session.ErrSessionSettled):
			http.Error(w, `{"error":"session already over"}`, http.StatusConflict)
		case errors.Is(err, session.ErrCredentialUnavailable):
			// Retryable: the session is intact, only the mint failed
			http.Error(w, `{"error":"credential service unavailable, retry"}`, http.StatusServiceUnavailable)
		default:
			h.logger.Error().Err(err).Str("room_name", req.RoomName).Msg("token issue failed")
			http.Error(w, `{"error":"token issue failed"}`, http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":     cred.Token,
		"url":       cred.ConnectionURL,
		"sessionId": sr.SessionID,
		"status":    sr.Status,
	})
}

// GetSession handles GET /api/sessions/{roomName}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "roomName")
	if roomName == "" {
		http.Error(w, "roomName is required", http.StatusBadRequest)
		return
	}

	sr, err := h.negotiator.GetByRoom(roomName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"no session for this room"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("room_name", roomName).Msg("failed to get session")
		http.Error(w, `{"error":"failed to load session"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sr)
}

// CancelSession handles POST /api/sessions/{roomName}/cancel, for the
// requesting side aborting before anyone connected
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "cancelled_by_client")
}

// EndSession handles POST /api/sessions/{roomName}/end. Either party
// may call it; repeats are no-ops.
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "ended_by_client")
}

func (h *SessionHandler) settle(w http.ResponseWriter, r *http.Request, reason string) {
	roomName := chi.URLParam(r, "roomName")
	if roomName == "" {
		http.Error(w, "roomName is required", http.StatusBadRequest)
		return
	}

	sr, err := h.negotiator.EndByRoom(roomName, reason)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"no session for this room"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("room_name", roomName).Msg("failed to settle session")
		http.Error(w, `{"error":"failed to end session"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sr)
}

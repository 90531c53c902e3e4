package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/auth"
	"github.com/finbuddy/lifeline/backend/internal/escalation"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChatHandler receives scored chat turns and runs them through the
// escalation router
type ChatHandler struct {
	router *escalation.Router
	store  storage.Store
	logger zerolog.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(router *escalation.Router, store storage.Store, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		router: router,
		store:  store,
		logger: logger.With().Str("component", "chat_handler").Logger(),
	}
}

type turnRequest struct {
	Message    string `json:"message"`
	Urgency    int    `json:"urgency"`
	Reason     string `json:"reason,omitempty"`
	WantsHuman bool   `json:"wantsHuman,omitempty"`
	Reply      string `json:"reply,omitempty"`
}

// turnResponse is the typed routing signal the chat surface acts on.
// The marker string is a compatibility shim for surfaces that still
// scan reply text.
type turnResponse struct {
	Escalated     bool   `json:"escalated"`
	Urgency       int    `json:"urgency"`
	EmergencyType string `json:"emergencyType,omitempty"`
	CaseID        string `json:"caseId,omitempty"`
	RoomName      string `json:"roomName,omitempty"`
	AgentID       string `json:"agentId,omitempty"`
	Marker        string `json:"marker,omitempty"`
	Reply         string `json:"reply,omitempty"`
	Stamped       int    `json:"stamped,omitempty"`
}

// Turn handles POST /api/chat/turn. The AI backend scores each user
// message; this endpoint records the turn, escalates when warranted,
// and hands back the cleaned reply text plus the routing signal.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok || claims.Subject == "" {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.Urgency < 0 || req.Urgency > 10 {
		http.Error(w, "urgency must be between 0 and 10", http.StatusBadRequest)
		return
	}

	result, err := h.router.Evaluate(escalation.TurnInput{
		UserID:     claims.Subject,
		Body:       req.Message,
		Urgency:    req.Urgency,
		Reason:     req.Reason,
		WantsHuman: req.WantsHuman,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", claims.Subject).Msg("turn evaluation failed")
		http.Error(w, `{"error":"could not reach support, try again"}`, http.StatusServiceUnavailable)
		return
	}

	resp := turnResponse{
		Escalated: result.Escalated,
		Urgency:   result.Urgency,
		Stamped:   result.Stamped,
	}
	if result.Escalated {
		resp.EmergencyType = result.Case.EmergencyType
		resp.CaseID = result.Case.CaseID
		resp.RoomName = result.Case.RoomName
		resp.AgentID = result.AgentID
		resp.Marker = result.Marker
	}

	if req.Reply != "" {
		resp.Reply = escalation.StripMarker(req.Reply)
		if m, found := escalation.ParseMarker(req.Reply); found && !result.Escalated {
			// The AI signalled a hand-off out-of-band; surface it the
			// same way as our own escalations
			resp.RoomName = m.RoomName
			if m.AgentID != escalation.MarkerUnassigned {
				resp.AgentID = m.AgentID
			}
			resp.Marker = escalation.BuildMarker(m.AgentID, m.RoomName)
		}
		h.recordReply(claims.Subject, resp.Reply, resp.RoomName)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// recordReply appends the assistant's cleaned reply to the
// conversation. History write failures don't fail the turn.
func (h *ChatHandler) recordReply(userID, body, roomName string) {
	if body == "" {
		return
	}
	err := h.store.SaveMessage(types.Message{
		MessageID: uuid.New().String(),
		UserID:    userID,
		Body:      body,
		Origin:    types.OriginAssistant,
		Escalated: roomName != "",
		RoomName:  roomName,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to persist assistant reply")
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/auth"
	"github.com/finbuddy/lifeline/backend/internal/escalation"
	"github.com/finbuddy/lifeline/backend/internal/feed"
	"github.com/finbuddy/lifeline/backend/internal/ingestion"
	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/session"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/finbuddy/lifeline/backend/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type stubSender struct {
	mu   sync.Mutex
	sent map[string]int
}

func (s *stubSender) SendToAgent(agentID string, message []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string]int)
	}
	s.sent[agentID]++
	return true
}

type testEnv struct {
	store      *storage.MemoryStore
	tracker    *presence.Tracker
	negotiator *session.Negotiator
	feed       *feed.Service
	escalator  *escalation.Router
	hub        *websocket.Hub
	agentHub   *websocket.AgentHub
	sender     *stubSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	store := storage.NewMemoryStore(nil)
	tracker := presence.NewTracker(store, 0, logger)
	minter := session.NewMinter(session.CredentialConfig{
		APIKey:    "devkey",
		APISecret: "devsecret-devsecret-devsecret-00",
		URL:       "wss://media.test.local",
	}, logger)
	negotiator := session.NewNegotiator(store, tracker, minter, logger)
	feedSvc := feed.NewService(store, tracker, negotiator, logger)
	sender := &stubSender{}
	escalator := escalation.NewRouter(store, tracker, sender, 0, 0, logger)
	processor := ingestion.NewDefaultProcessor(tracker, logger)
	agentHub := websocket.NewAgentHub(tracker, processor, logger)
	hub := websocket.NewHub(logger)

	return &testEnv{
		store:      store,
		tracker:    tracker,
		negotiator: negotiator,
		feed:       feedSvc,
		escalator:  escalator,
		hub:        hub,
		agentHub:   agentHub,
		sender:     sender,
	}
}

func withUser(sub, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), auth.UserContextKey, &auth.Claims{
				Role:             role,
				RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildRouter wires the handlers the way cmd/server does, with a fixed
// authenticated user instead of the JWT middleware
func buildRouter(env *testEnv, sub, role string) http.Handler {
	logger := zerolog.Nop()
	chat := NewChatHandler(env.escalator, env.store, logger)
	cases := NewCaseHandler(env.feed, env.store, 15*time.Minute, logger)
	sessions := NewSessionHandler(env.negotiator, logger)
	agents := NewAgentsHandler(env.tracker, logger)
	history := NewAgentHistoryHandler(env.negotiator, logger)
	actions := NewAgentActionsHandler(env.agentHub, env.negotiator, logger)
	roster := NewRosterHandler(env.tracker, logger)
	admin := NewAdminHandler(env.store, env.tracker, env.hub, env.agentHub, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(withUser(sub, role))
		r.Post("/chat/turn", chat.Turn)
		r.Get("/cases", cases.ListCases)
		r.Get("/cases/{caseId}", cases.GetCase)
		r.Get("/cases/{caseId}/messages", cases.GetCaseMessages)
		r.Post("/cases/{caseId}/claim", cases.ClaimCase)
		r.Post("/cases/{caseId}/close", cases.CloseCase)
		r.Post("/sessions/token", sessions.IssueToken)
		r.Get("/sessions/{roomName}", sessions.GetSession)
		r.Post("/sessions/{roomName}/cancel", sessions.CancelSession)
		r.Post("/sessions/{roomName}/end", sessions.EndSession)
		r.Get("/agents", agents.ListAgents)
		r.Post("/agents/{agentId}/presence", agents.SetPresence)
		r.Get("/agents/{agentId}/history", history.GetHistory)
		r.With(RequireAdmin).Post("/agents/{agentId}/logout", actions.Logout)
		r.With(RequireSupervisorOrAdmin).Post("/agents/{agentId}/sessions/{roomName}/end", actions.ForceEndSession)
	})
	r.Route("/internal", func(r chi.Router) {
		r.Post("/agents/roster", roster.HandleRoster)
		r.Post("/admin/inject", admin.InjectCases)
		r.Post("/admin/reset", admin.ResetMemory)
		r.Post("/admin/truncate", admin.Truncate)
		r.Post("/admin/logoff-all", admin.LogoffAll)
		r.Get("/admin/stats", admin.Stats)
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestChatTurnThroughClaimAndSession(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")
	env.tracker.SetOnline("agent-1", "Dana")

	// The scored turn escalates and routes to the online agent
	w := doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "someone used my card without permission",
		"urgency": 6,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("turn: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var turn struct {
		Escalated bool   `json:"escalated"`
		Urgency   int    `json:"urgency"`
		CaseID    string `json:"caseId"`
		RoomName  string `json:"roomName"`
		AgentID   string `json:"agentId"`
		Marker    string `json:"marker"`
	}
	decode(t, w, &turn)
	if !turn.Escalated {
		t.Fatal("expected the turn to escalate")
	}
	if turn.Urgency != 9 {
		t.Errorf("expected effective urgency 9, got %d", turn.Urgency)
	}
	if turn.AgentID != "agent-1" {
		t.Errorf("expected routing to agent-1, got %q", turn.AgentID)
	}
	if turn.Marker == "" {
		t.Error("expected a hand-off marker")
	}

	// The case shows on the feed
	w = doJSON(t, h, http.MethodGet, "/api/cases", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("feed: expected 200, got %d", w.Code)
	}
	var entries []types.FeedEntry
	decode(t, w, &entries)
	if len(entries) != 1 || entries[0].CaseID != turn.CaseID {
		t.Fatalf("expected the new case on the feed, got %+v", entries)
	}

	// Claim it
	w = doJSON(t, h, http.MethodPost, "/api/cases/"+turn.CaseID+"/claim",
		map[string]string{"agentId": "agent-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var claim feed.ClaimResult
	decode(t, w, &claim)
	if claim.Case.Status != types.CaseStatusConnected {
		t.Errorf("expected connected case, got %s", claim.Case.Status)
	}
	if claim.Session == nil || claim.Session.AgentID != "agent-1" {
		t.Fatalf("expected the session assigned to agent-1, got %+v", claim.Session)
	}
	if p, _ := env.tracker.Get("agent-1"); !p.IsBusy {
		t.Error("claim must mark the agent busy")
	}

	// Both participants fetch credentials against the same room
	w = doJSON(t, h, http.MethodPost, "/api/sessions/token",
		map[string]string{"roomName": turn.RoomName})
	if w.Code != http.StatusOK {
		t.Fatalf("token: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var tok struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	decode(t, w, &tok)
	if tok.Token == "" || tok.URL != "wss://media.test.local" {
		t.Errorf("unexpected credential %+v", tok)
	}

	// Provider reports the join; ending the active session completes it
	if _, err := env.negotiator.Activate(turn.RoomName); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+turn.RoomName+"/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var ended types.SessionRequest
	decode(t, w, &ended)
	if ended.Status != types.SessionStatusCompleted {
		t.Errorf("expected completed, got %s", ended.Status)
	}
	if p, _ := env.tracker.Get("agent-1"); p.IsBusy {
		t.Error("ending the session must free the agent")
	}

	// Ending again is a no-op
	w = doJSON(t, h, http.MethodPost, "/api/sessions/"+turn.RoomName+"/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat end: expected 200, got %d", w.Code)
	}
	var repeat types.SessionRequest
	decode(t, w, &repeat)
	if repeat.Status != types.SessionStatusCompleted {
		t.Errorf("repeat end changed status to %s", repeat.Status)
	}
	if repeat.CallDuration != ended.CallDuration {
		t.Errorf("repeat end changed duration from %f to %f", ended.CallDuration, repeat.CallDuration)
	}
}

func TestChatTurnBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")

	w := doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "how do I update my address?",
		"urgency": 3,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var turn struct {
		Escalated bool   `json:"escalated"`
		CaseID    string `json:"caseId"`
	}
	decode(t, w, &turn)
	if turn.Escalated || turn.CaseID != "" {
		t.Errorf("expected no escalation, got %+v", turn)
	}

	w = doJSON(t, h, http.MethodGet, "/api/cases", nil)
	var entries []types.FeedEntry
	decode(t, w, &entries)
	if len(entries) != 0 {
		t.Errorf("expected an empty feed, got %d entries", len(entries))
	}
}

func TestChatTurnCleansReplyMarker(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")

	w := doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "thanks, waiting now",
		"reply":   "Connecting you. [AGENT_CALL:agent-7:emergency-fraud-user-1-5] Hold on.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var turn struct {
		Escalated bool   `json:"escalated"`
		RoomName  string `json:"roomName"`
		AgentID   string `json:"agentId"`
		Reply     string `json:"reply"`
	}
	decode(t, w, &turn)
	if turn.Escalated {
		t.Error("a plain thanks must not escalate")
	}
	if turn.Reply != "Connecting you.  Hold on." {
		t.Errorf("marker not stripped: %q", turn.Reply)
	}
	if turn.RoomName != "emergency-fraud-user-1-5" || turn.AgentID != "agent-7" {
		t.Errorf("reply marker not surfaced: %+v", turn)
	}
}

func TestClaimRace(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")
	env.tracker.SetOnline("agent-1", "")
	env.tracker.SetOnline("agent-2", "")

	w := doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "my card was stolen",
	})
	var turn struct {
		CaseID string `json:"caseId"`
	}
	decode(t, w, &turn)

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for _, agent := range []string{"agent-1", "agent-2"} {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			resp := doJSON(t, h, http.MethodPost, "/api/cases/"+turn.CaseID+"/claim",
				map[string]string{"agentId": agentID})
			codes <- resp.Code
		}(agent)
	}
	wg.Wait()
	close(codes)

	won, lost := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			won++
		case http.StatusConflict:
			lost++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if won != 1 || lost != 1 {
		t.Errorf("expected exactly one winner, got %d winners and %d losers", won, lost)
	}
}

func TestClaimRequiresAvailableAgent(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")

	w := doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "fraud on my account",
	})
	var turn struct {
		CaseID string `json:"caseId"`
	}
	decode(t, w, &turn)

	// Never seen this agent; the claim is rejected before the CAS
	w = doJSON(t, h, http.MethodPost, "/api/cases/"+turn.CaseID+"/claim",
		map[string]string{"agentId": "agent-ghost"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	// The case is untouched and still claimable
	env.tracker.SetOnline("agent-1", "")
	w = doJSON(t, h, http.MethodPost, "/api/cases/"+turn.CaseID+"/claim",
		map[string]string{"agentId": "agent-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after rejection, got %d", w.Code)
	}
}

func TestCaseMessagesContext(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")

	// Context message before the emergency
	if err := env.store.SaveMessage(types.Message{
		MessageID: "m1",
		UserID:    "user-1",
		Body:      "I noticed something odd on my statement",
		Origin:    types.OriginUser,
		CreatedAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	w := doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "there is a fraudulent transaction",
	})
	var turn struct {
		CaseID string `json:"caseId"`
	}
	decode(t, w, &turn)

	w = doJSON(t, h, http.MethodGet, "/api/cases/"+turn.CaseID+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var msgs []types.Message
	decode(t, w, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("expected both stamped messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if !m.Escalated {
			t.Errorf("message %s not stamped", m.MessageID)
		}
	}
}

func TestSessionEndpointsUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")

	w := doJSON(t, h, http.MethodPost, "/api/sessions/token",
		map[string]string{"roomName": "no-such-room"})
	if w.Code != http.StatusNotFound {
		t.Errorf("token: expected 404, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/sessions/no-such-room", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get: expected 404, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/sessions/no-such-room/end", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("end: expected 404, got %d", w.Code)
	}
}

func TestSessionTokenAfterSettled(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "user-1", "agent")

	doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "my card was stolen",
	})
	sessions, err := env.negotiator.ListByStatus(types.SessionStatusPending)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one pending session, got %v (%v)", sessions, err)
	}
	room := sessions[0].RoomName

	w := doJSON(t, h, http.MethodPost, "/api/sessions/"+room+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}
	var cancelled types.SessionRequest
	decode(t, w, &cancelled)
	if cancelled.Status != types.SessionStatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	w = doJSON(t, h, http.MethodPost, "/api/sessions/token",
		map[string]string{"roomName": room})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a settled session, got %d", w.Code)
	}
}

func TestAgentEndpoints(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "supervisor-1", "admin")

	// Roster registration shows off-shift agents as offline
	w := doJSON(t, h, http.MethodPost, "/internal/agents/roster", []map[string]string{
		{"agentId": "agent-1", "displayName": "Dana"},
		{"agentId": "agent-2", "displayName": "Kim"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("roster: expected 200, got %d", w.Code)
	}
	var reg map[string]int
	decode(t, w, &reg)
	if reg["registered"] != 2 {
		t.Errorf("expected 2 registered, got %d", reg["registered"])
	}

	w = doJSON(t, h, http.MethodGet, "/api/agents", nil)
	var roster []types.AgentInfo
	decode(t, w, &roster)
	if len(roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(roster))
	}
	if roster[0].AgentID != "agent-1" || roster[0].IsOnline {
		t.Errorf("unexpected first entry %+v", roster[0])
	}

	// REST presence flip
	w = doJSON(t, h, http.MethodPost, "/api/agents/agent-1/presence",
		map[string]interface{}{"online": true})
	if w.Code != http.StatusOK {
		t.Fatalf("presence: expected 200, got %d", w.Code)
	}
	var p types.AgentPresence
	decode(t, w, &p)
	if !p.IsOnline || p.IsBusy {
		t.Errorf("unexpected presence %+v", p)
	}
	if p.DisplayName != "Dana" {
		t.Errorf("display name lost on flip: %+v", p)
	}

	// Logout of an agent with no socket
	w = doJSON(t, h, http.MethodPost, "/api/agents/agent-1/logout", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("logout: expected 404, got %d", w.Code)
	}
}

func TestAdminRoleGate(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "agent-1", "agent")

	w := doJSON(t, h, http.MethodPost, "/api/agents/agent-1/logout", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/agents/agent-1/sessions/room-1/end", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-supervisor, got %d", w.Code)
	}
}

func TestAdminInjectAndStats(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "admin-1", "admin")
	env.tracker.SetOnline("agent-1", "")

	w := doJSON(t, h, http.MethodPost, "/internal/admin/inject",
		map[string]interface{}{"count": 3, "emergencyType": "fraud"})
	if w.Code != http.StatusOK {
		t.Fatalf("inject: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var inject struct {
		Injected int `json:"injected"`
	}
	decode(t, w, &inject)
	if inject.Injected != 3 {
		t.Errorf("expected 3 injected, got %d", inject.Injected)
	}

	w = doJSON(t, h, http.MethodGet, "/api/cases", nil)
	var entries []types.FeedEntry
	decode(t, w, &entries)
	if len(entries) != 3 {
		t.Errorf("expected 3 waiting cases, got %d", len(entries))
	}

	w = doJSON(t, h, http.MethodGet, "/internal/admin/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
	var stats map[string]interface{}
	decode(t, w, &stats)
	if stats["casesWaiting"] != float64(3) {
		t.Errorf("expected 3 waiting in stats, got %v", stats["casesWaiting"])
	}
	if stats["sessionsPending"] != float64(3) {
		t.Errorf("expected 3 pending in stats, got %v", stats["sessionsPending"])
	}
	if stats["agentsOnline"] != float64(1) {
		t.Errorf("expected 1 online in stats, got %v", stats["agentsOnline"])
	}

	// Truncate wipes the lot
	w = doJSON(t, h, http.MethodPost, "/internal/admin/truncate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("truncate: expected 200, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/api/cases", nil)
	decode(t, w, &entries)
	if len(entries) != 0 {
		t.Errorf("expected an empty feed after truncate, got %d", len(entries))
	}
}

func TestForceEndSession(t *testing.T) {
	env := newTestEnv(t)
	h := buildRouter(env, "supervisor-1", "supervisor")
	env.tracker.SetOnline("agent-1", "")

	w := doJSON(t, h, http.MethodPost, "/api/chat/turn", map[string]interface{}{
		"message": "my card was stolen",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("turn: expected 200, got %d", w.Code)
	}
	var turn struct {
		CaseID   string `json:"caseId"`
		RoomName string `json:"roomName"`
	}
	decode(t, w, &turn)

	doJSON(t, h, http.MethodPost, "/api/cases/"+turn.CaseID+"/claim",
		map[string]string{"agentId": "agent-1"})
	if _, err := env.negotiator.Activate(turn.RoomName); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	w = doJSON(t, h, http.MethodPost, "/api/agents/agent-1/sessions/"+turn.RoomName+"/end", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("force end: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	sr, err := env.negotiator.GetByRoom(turn.RoomName)
	if err != nil {
		t.Fatalf("GetByRoom failed: %v", err)
	}
	if sr.Status != types.SessionStatusCompleted {
		t.Errorf("expected completed, got %s", sr.Status)
	}
	if p, _ := env.tracker.Get("agent-1"); p.IsBusy {
		t.Error("force end must free the agent")
	}

	// The settled sessions land in the agent's history
	w = doJSON(t, h, http.MethodGet, "/api/agents/agent-1/history", nil)
	var history []types.SessionRequest
	decode(t, w, &history)
	if len(history) != 1 || history[0].RoomName != turn.RoomName {
		t.Errorf("unexpected history %+v", history)
	}
}

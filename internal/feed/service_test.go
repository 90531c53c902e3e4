package feed

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/session"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *presence.Tracker) {
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
	return NewService(store, tracker, negotiator, logger), store, tracker
}

func seedCase(t *testing.T, store *storage.MemoryStore, id string, urgency int, age time.Duration) types.Case {
	t.Helper()
	c := types.Case{
		CaseID:        id,
		UserID:        "user-" + id,
		Status:        types.CaseStatusWaiting,
		Urgency:       urgency,
		Reason:        "seeded",
		EmergencyType: "fraud",
		RoomName:      fmt.Sprintf("emergency-fraud-user-%s-1", id),
		CreatedAt:     time.Now().Add(-age),
		UpdatedAt:     time.Now().Add(-age),
	}
	if err := store.SaveCase(c); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}
	return c
}

func TestListOrdersByUrgencyThenAge(t *testing.T) {
	svc, store, _ := newTestService(t)

	seedCase(t, store, "low", 7, 10*time.Second)
	seedCase(t, store, "critical-new", 9, 5*time.Second)
	seedCase(t, store, "critical-old", 9, 30*time.Second)

	closed := seedCase(t, store, "done", 10, time.Second)
	closed.Status = types.CaseStatusClosed
	if err := store.SaveCase(closed); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}

	entries, err := svc.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"critical-old", "critical-new", "low"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, id := range want {
		if entries[i].CaseID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, entries[i].CaseID)
		}
	}
}

func TestListStampsAgeAlerts(t *testing.T) {
	svc, store, _ := newTestService(t)

	seedCase(t, store, "fresh", 7, 5*time.Second)
	seedCase(t, store, "stale", 9, 6*time.Minute)

	entries, err := svc.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	// Sorted by urgency, the stale urgency-9 case comes first
	stale := entries[0]
	if stale.CaseID != "stale" {
		t.Fatalf("expected the stale case first, got %s", stale.CaseID)
	}
	if len(stale.Alerts) != 2 {
		t.Fatalf("expected waiting and urgency alerts, got %+v", stale.Alerts)
	}
	if len(entries[1].Alerts) != 0 {
		t.Errorf("fresh case should carry no alerts, got %+v", entries[1].Alerts)
	}
}

func TestClaimRequiresAvailability(t *testing.T) {
	svc, store, tracker := newTestService(t)
	c := seedCase(t, store, "c1", 8, time.Second)

	// Unknown agent
	if _, err := svc.Claim(c.CaseID, "nobody"); !errors.Is(err, ErrAgentUnavailable) {
		t.Errorf("expected ErrAgentUnavailable for unknown agent, got %v", err)
	}

	// Offline agent
	tracker.SetOnline("agent-1", "")
	tracker.SetOffline("agent-1")
	if _, err := svc.Claim(c.CaseID, "agent-1"); !errors.Is(err, ErrAgentUnavailable) {
		t.Errorf("expected ErrAgentUnavailable for offline agent, got %v", err)
	}

	// Busy agent
	tracker.SetBusy("agent-1", true)
	if _, err := svc.Claim(c.CaseID, "agent-1"); !errors.Is(err, ErrAgentUnavailable) {
		t.Errorf("expected ErrAgentUnavailable for busy agent, got %v", err)
	}

	// The rejections never touched the case
	got, err := svc.Get(c.CaseID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.CaseStatusWaiting {
		t.Errorf("expected the case still waiting, got %s", got.Status)
	}
}

func TestClaimSecondAgentLoses(t *testing.T) {
	svc, store, tracker := newTestService(t)
	c := seedCase(t, store, "c1", 8, time.Second)
	tracker.SetOnline("agent-1", "")
	tracker.SetOnline("agent-2", "")

	if _, err := svc.Claim(c.CaseID, "agent-1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	_, err := svc.Claim(c.CaseID, "agent-2")
	if !errors.Is(err, storage.ErrCaseConflict) {
		t.Fatalf("expected ErrCaseConflict, got %v", err)
	}

	if p, _ := tracker.Get("agent-1"); !p.IsBusy {
		t.Error("winner must be busy")
	}
	if p, _ := tracker.Get("agent-2"); p.IsBusy {
		t.Error("loser must stay available")
	}
}

func TestClaimCarriesAgentOntoSession(t *testing.T) {
	svc, store, tracker := newTestService(t)
	c := seedCase(t, store, "c1", 9, time.Second)
	if err := store.SaveSession(types.SessionRequest{
		SessionID: "s1",
		CaseID:    c.CaseID,
		UserID:    c.UserID,
		RoomName:  c.RoomName,
		Status:    types.SessionStatusPending,
		Priority:  "critical",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	tracker.SetOnline("agent-1", "")

	result, err := svc.Claim(c.CaseID, "agent-1")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if result.Case.Status != types.CaseStatusConnected || result.Case.AgentID != "agent-1" {
		t.Errorf("unexpected case after claim: %+v", result.Case)
	}
	if result.Session == nil || result.Session.AgentID != "agent-1" {
		t.Fatalf("expected the session assigned, got %+v", result.Session)
	}
}

func TestCloseSettlesLinkedSession(t *testing.T) {
	svc, store, _ := newTestService(t)
	c := seedCase(t, store, "c1", 8, time.Second)
	if err := store.SaveSession(types.SessionRequest{
		SessionID: "s1",
		CaseID:    c.CaseID,
		UserID:    c.UserID,
		RoomName:  c.RoomName,
		Status:    types.SessionStatusPending,
		Priority:  "high",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	closed, err := svc.Close(c.CaseID)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Status != types.CaseStatusClosed {
		t.Errorf("expected closed, got %s", closed.Status)
	}

	sr, err := store.GetSessionByRoom(c.RoomName)
	if err != nil {
		t.Fatalf("GetSessionByRoom failed: %v", err)
	}
	if sr.Status != types.SessionStatusCancelled {
		t.Errorf("expected the pending session cancelled, got %s", sr.Status)
	}

	// Closing twice is a client error
	if _, err := svc.Close(c.CaseID); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

package escalation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

func saveWaitingCase(t *testing.T, store *storage.MemoryStore, caseID string, urgency int, createdAt time.Time) {
	t.Helper()
	if err := store.SaveCase(types.Case{
		CaseID:    caseID,
		UserID:    "user-1",
		Status:    types.CaseStatusWaiting,
		Urgency:   urgency,
		RoomName:  "room-" + caseID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}
}

func TestDispatchMatchesUrgentCasesToIdleAgents(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	tracker := presence.NewTracker(store, 0, zerolog.Nop())
	sender := newFakeSender()
	dl := NewDispatchLoop(store, tracker, sender, zerolog.Nop())

	now := time.Now()
	saveWaitingCase(t, store, "low", 7, now.Add(-2*time.Minute))
	saveWaitingCase(t, store, "high", 9, now.Add(-time.Minute))

	tracker.SetOnline("idle-long", "")
	time.Sleep(5 * time.Millisecond)
	tracker.SetOnline("idle-short", "")

	dl.tick()

	// Longest-idle agent gets the most urgent case
	msgs := sender.sentTo("idle-long")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 push to idle-long, got %d", len(msgs))
	}
	var assign types.CaseAssign
	if err := json.Unmarshal(msgs[0], &assign); err != nil {
		t.Fatalf("failed to unmarshal push: %v", err)
	}
	if assign.CaseID != "high" {
		t.Errorf("longest-idle agent got case %s, want high", assign.CaseID)
	}

	// The other agent gets the remaining case in the same pass
	msgs = sender.sentTo("idle-short")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 push to idle-short, got %d", len(msgs))
	}
	if err := json.Unmarshal(msgs[0], &assign); err != nil {
		t.Fatalf("failed to unmarshal push: %v", err)
	}
	if assign.CaseID != "low" {
		t.Errorf("second agent got case %s, want low", assign.CaseID)
	}

	// A second pass inside the offer TTL must not resend
	dl.tick()
	if sender.total() != 2 {
		t.Errorf("expected offers to stand, got %d pushes total", sender.total())
	}
}

func TestDispatchStopsWhenNoAgents(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	tracker := presence.NewTracker(store, 0, zerolog.Nop())
	sender := newFakeSender()
	dl := NewDispatchLoop(store, tracker, sender, zerolog.Nop())

	saveWaitingCase(t, store, "case-1", 9, time.Now())
	dl.tick()

	if sender.total() != 0 {
		t.Errorf("expected no pushes without agents, got %d", sender.total())
	}
	if len(dl.offered) != 0 {
		t.Errorf("expected no standing offers, got %d", len(dl.offered))
	}
}

func TestDispatchPrunesSettledCases(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	tracker := presence.NewTracker(store, 0, zerolog.Nop())
	sender := newFakeSender()
	dl := NewDispatchLoop(store, tracker, sender, zerolog.Nop())

	saveWaitingCase(t, store, "case-1", 9, time.Now())
	tracker.SetOnline("agent-1", "")
	dl.tick()

	if len(dl.offered) != 1 {
		t.Fatalf("expected a standing offer, got %d", len(dl.offered))
	}

	if _, err := store.ClaimCase("case-1", "agent-1"); err != nil {
		t.Fatalf("ClaimCase failed: %v", err)
	}

	dl.tick()
	if len(dl.offered) != 0 {
		t.Errorf("expected offer pruned after claim, got %d standing", len(dl.offered))
	}
	if sender.total() != 1 {
		t.Errorf("expected no further pushes, got %d", sender.total())
	}
}

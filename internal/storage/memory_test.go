package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/changefeed"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore(changefeed.NewBus(zerolog.Nop()))
}

func waitingCase(caseID string) types.Case {
	now := time.Now()
	return types.Case{
		CaseID:        caseID,
		UserID:        "user-1",
		Status:        types.CaseStatusWaiting,
		Urgency:       8,
		Reason:        "possible card fraud",
		EmergencyType: "fraud",
		RoomName:      "emergency-fraud-user-1-1700000000000",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestClaimCaseExclusive(t *testing.T) {
	store := newTestStore()
	if err := store.SaveCase(waitingCase("case-1")); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}

	const claimers = 25

	var wg sync.WaitGroup
	results := make([]error, claimers)
	winners := make([]*types.Case, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, err := store.ClaimCase("case-1", agentName(n))
			results[n] = err
			winners[n] = c
		}(i)
	}
	wg.Wait()

	won := 0
	conflicts := 0
	var winnerAgent string
	for i, err := range results {
		switch {
		case err == nil:
			won++
			winnerAgent = agentName(i)
			if winners[i].Status != types.CaseStatusConnected {
				t.Errorf("winner got status %s, want %s", winners[i].Status, types.CaseStatusConnected)
			}
		case errors.Is(err, ErrCaseConflict):
			conflicts++
		default:
			t.Errorf("claimer %d got unexpected error: %v", i, err)
		}
	}

	if won != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", won)
	}
	if conflicts != claimers-1 {
		t.Errorf("expected %d conflicts, got %d", claimers-1, conflicts)
	}

	c, err := store.GetCase("case-1")
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if c.AgentID != winnerAgent {
		t.Errorf("stored agent %s does not match winner %s", c.AgentID, winnerAgent)
	}
}

func agentName(n int) string {
	return "agent-" + string(rune('a'+n%26)) + "-" + string(rune('0'+n/26))
}

func TestClaimCaseErrors(t *testing.T) {
	store := newTestStore()

	if _, err := store.ClaimCase("missing", "agent-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("claim of missing case: got %v, want ErrNotFound", err)
	}

	c := waitingCase("case-2")
	c.Status = types.CaseStatusClosed
	if err := store.SaveCase(c); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}
	if _, err := store.ClaimCase("case-2", "agent-1"); !errors.Is(err, ErrCaseConflict) {
		t.Errorf("claim of closed case: got %v, want ErrCaseConflict", err)
	}
}

func TestCloseCase(t *testing.T) {
	store := newTestStore()
	if err := store.SaveCase(waitingCase("case-3")); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}

	c, err := store.CloseCase("case-3")
	if err != nil {
		t.Fatalf("CloseCase failed: %v", err)
	}
	if c.Status != types.CaseStatusClosed {
		t.Errorf("got status %s, want %s", c.Status, types.CaseStatusClosed)
	}

	if _, err := store.CloseCase("case-3"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second close: got %v, want ErrInvalidTransition", err)
	}
}

func pendingSession(sessionID, roomName string) types.SessionRequest {
	now := time.Now()
	return types.SessionRequest{
		SessionID:     sessionID,
		CaseID:        "case-1",
		UserID:        "user-1",
		RoomName:      roomName,
		Status:        types.SessionStatusPending,
		Priority:      "high",
		EmergencyType: "fraud",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestTransitionSession(t *testing.T) {
	store := newTestStore()
	if err := store.SaveSession(pendingSession("sess-1", "room-1")); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	connectedAt := time.Now()
	sr, err := store.TransitionSession("sess-1", SessionTransition{
		To:          types.SessionStatusActive,
		From:        []types.SessionStatus{types.SessionStatusPending},
		ConnectedAt: &connectedAt,
	})
	if err != nil {
		t.Fatalf("pending->active failed: %v", err)
	}
	if sr.Status != types.SessionStatusActive {
		t.Errorf("got status %s, want %s", sr.Status, types.SessionStatusActive)
	}
	if sr.ConnectedAt == nil {
		t.Error("ConnectedAt not recorded")
	}

	// The From guard rejects a transition from any other status
	_, err = store.TransitionSession("sess-1", SessionTransition{
		To:   types.SessionStatusCancelled,
		From: []types.SessionStatus{types.SessionStatusPending},
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel of active session: got %v, want ErrInvalidTransition", err)
	}

	endedAt := connectedAt.Add(90 * time.Second)
	duration := endedAt.Sub(connectedAt).Seconds()
	sr, err = store.TransitionSession("sess-1", SessionTransition{
		To:           types.SessionStatusCompleted,
		From:         []types.SessionStatus{types.SessionStatusActive},
		EndedAt:      &endedAt,
		CallDuration: &duration,
	})
	if err != nil {
		t.Fatalf("active->completed failed: %v", err)
	}
	if sr.CallDuration != duration {
		t.Errorf("got duration %.1f, want %.1f", sr.CallDuration, duration)
	}

	_, err = store.TransitionSession("missing", SessionTransition{
		To:   types.SessionStatusActive,
		From: []types.SessionStatus{types.SessionStatusPending},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("transition of missing session: got %v, want ErrNotFound", err)
	}
}

func TestAssignSessionAgent(t *testing.T) {
	store := newTestStore()
	if err := store.SaveSession(pendingSession("sess-2", "room-2")); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	sr, err := store.AssignSessionAgent("sess-2", "agent-7")
	if err != nil {
		t.Fatalf("AssignSessionAgent failed: %v", err)
	}
	if sr.AgentID != "agent-7" {
		t.Errorf("got agent %s, want agent-7", sr.AgentID)
	}
	if sr.Status != types.SessionStatusPending {
		t.Errorf("assignment changed status to %s, want it to stay pending", sr.Status)
	}

	now := time.Now()
	if _, err := store.TransitionSession("sess-2", SessionTransition{
		To:          types.SessionStatusActive,
		From:        []types.SessionStatus{types.SessionStatusPending},
		ConnectedAt: &now,
	}); err != nil {
		t.Fatalf("pending->active failed: %v", err)
	}

	if _, err := store.AssignSessionAgent("sess-2", "agent-8"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("assign on active session: got %v, want ErrInvalidTransition", err)
	}
}

func TestGetSessionByRoom(t *testing.T) {
	store := newTestStore()
	if err := store.SaveSession(pendingSession("sess-3", "room-3")); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	sr, err := store.GetSessionByRoom("room-3")
	if err != nil {
		t.Fatalf("GetSessionByRoom failed: %v", err)
	}
	if sr.SessionID != "sess-3" {
		t.Errorf("got session %s, want sess-3", sr.SessionID)
	}

	if _, err := store.GetSessionByRoom("no-such-room"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup of unknown room: got %v, want ErrNotFound", err)
	}
}

func TestStampEscalated(t *testing.T) {
	store := newTestStore()
	now := time.Now()

	msgs := []types.Message{
		{MessageID: "m1", UserID: "user-9", Body: "old message", Origin: types.OriginUser, CreatedAt: now.Add(-30 * time.Minute)},
		{MessageID: "m2", UserID: "user-9", Body: "my card was stolen", Origin: types.OriginUser, CreatedAt: now.Add(-2 * time.Minute)},
		{MessageID: "m3", UserID: "user-9", Body: "let me check that for you", Origin: types.OriginAssistant, CreatedAt: now.Add(-1 * time.Minute)},
	}
	for _, m := range msgs {
		if err := store.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	stamped, err := store.StampEscalated("user-9", "room-9", now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("StampEscalated failed: %v", err)
	}
	if stamped != 2 {
		t.Fatalf("stamped %d messages, want 2", stamped)
	}

	recent, err := store.ListRecentMessages("user-9", now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("ListRecentMessages failed: %v", err)
	}
	for _, m := range recent {
		if !m.Escalated {
			t.Errorf("message %s not stamped", m.MessageID)
		}
		if m.RoomName != "room-9" {
			t.Errorf("message %s has room %q, want room-9", m.MessageID, m.RoomName)
		}
	}

	// Already-stamped messages are not counted again
	stamped, err = store.StampEscalated("user-9", "room-9", now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("second StampEscalated failed: %v", err)
	}
	if stamped != 0 {
		t.Errorf("second stamp touched %d messages, want 0", stamped)
	}
}

func TestMemoryStorePublishesChanges(t *testing.T) {
	bus := changefeed.NewBus(zerolog.Nop())
	store := NewMemoryStore(bus)
	events := bus.Subscribe(8)

	if err := store.SaveCase(waitingCase("case-pub")); err != nil {
		t.Fatalf("SaveCase failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Table != "cases" || ev.Op != changefeed.OpInsert {
			t.Errorf("got event %s/%s, want cases/INSERT", ev.Table, ev.Op)
		}
		if ev.Case == nil || ev.Case.CaseID != "case-pub" {
			t.Error("event payload missing case")
		}
	case <-time.After(time.Second):
		t.Fatal("no change event received")
	}

	if _, err := store.ClaimCase("case-pub", "agent-1"); err != nil {
		t.Fatalf("ClaimCase failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Op != changefeed.OpModify {
			t.Errorf("got op %s, want MODIFY", ev.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("no change event for claim")
	}
}

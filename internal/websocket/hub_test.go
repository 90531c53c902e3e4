package websocket

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/ingestion"
	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

func TestNewHub(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	if hub == nil {
		t.Fatal("expected hub to be created")
	}

	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}

	if hub.broadcast == nil {
		t.Error("expected broadcast channel to be initialized")
	}

	if hub.register == nil {
		t.Error("expected register channel to be initialized")
	}

	if hub.unregister == nil {
		t.Error("expected unregister channel to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Initial count should be 0
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	// Simulate adding clients
	hub.mu.Lock()
	hub.clients[&Client{id: "test1"}] = true
	hub.clients[&Client{id: "test2"}] = true
	hub.mu.Unlock()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
}

func TestHubBroadcast(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub in goroutine
	go hub.Run()

	// Give hub time to start
	time.Sleep(10 * time.Millisecond)

	// Test broadcast
	message := []byte("test message")
	hub.Broadcast(message)

	// The broadcast should succeed without blocking
	select {
	case <-time.After(100 * time.Millisecond):
		t.Error("broadcast blocked unexpectedly")
	default:
		// Broadcast completed
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub in goroutine
	go hub.Run()

	// Create mock client
	client := &Client{
		id:   "test-client",
		hub:  hub,
		send: make(chan []byte, 1),
	}

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after register, got %d", hub.ClientCount())
	}

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}
}

func TestHubBroadcastToMultipleClients(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub
	go hub.Run()

	// Create multiple mock clients
	client1 := &Client{
		id:   "client1",
		hub:  hub,
		send: make(chan []byte, 10),
	}

	client2 := &Client{
		id:   "client2",
		hub:  hub,
		send: make(chan []byte, 10),
	}

	// Register clients
	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	// Broadcast message
	message := []byte("test broadcast")
	hub.Broadcast(message)

	// Wait for message to be sent
	time.Sleep(10 * time.Millisecond)

	// Check both clients received the message
	select {
	case msg := <-client1.send:
		if string(msg) != string(message) {
			t.Errorf("client1 expected %s, got %s", message, msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("client1 did not receive message")
	}

	select {
	case msg := <-client2.send:
		if string(msg) != string(message) {
			t.Errorf("client2 expected %s, got %s", message, msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("client2 did not receive message")
	}
}

func TestHubSessionUpdateFiltering(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	go hub.Run()

	// Dashboard client with no watches receives everything
	dashboard := &Client{
		id:   "dashboard",
		hub:  hub,
		send: make(chan []byte, 10),
	}

	// User client watching a different room
	watcher := &Client{
		id:      "watcher",
		hub:     hub,
		send:    make(chan []byte, 10),
		watched: map[string]bool{"emergency-fraud-user1-1": true},
	}

	hub.register <- dashboard
	hub.register <- watcher
	time.Sleep(10 * time.Millisecond)

	update, err := json.Marshal(types.SessionUpdate{
		Type:      "session_update",
		RoomName:  "emergency-fraud-user2-2",
		Status:    types.SessionStatusActive,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hub.Broadcast(update)
	time.Sleep(10 * time.Millisecond)

	select {
	case <-dashboard.send:
		// Unfiltered client got the update
	case <-time.After(100 * time.Millisecond):
		t.Error("dashboard did not receive session update")
	}

	select {
	case msg := <-watcher.send:
		t.Errorf("watcher should not receive update for unwatched room, got %s", msg)
	default:
		// Watcher was filtered out
	}

	// An update for the watched room reaches both
	update, err = json.Marshal(types.SessionUpdate{
		Type:      "session_update",
		RoomName:  "emergency-fraud-user1-1",
		Status:    types.SessionStatusActive,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hub.Broadcast(update)
	time.Sleep(10 * time.Millisecond)

	select {
	case <-watcher.send:
		// Watched room update delivered
	case <-time.After(100 * time.Millisecond):
		t.Error("watcher did not receive update for watched room")
	}
}

// nopStore satisfies presence.Store for hub tests
type nopStore struct{}

func (nopStore) SaveAgentPresence(types.AgentPresence) error       { return nil }
func (nopStore) ListAgentPresence() ([]types.AgentPresence, error) { return nil, nil }

func newTestAgentHub() *AgentHub {
	logger := zerolog.Nop()
	tracker := presence.NewTracker(nopStore{}, 0, logger)
	processor := ingestion.NewDefaultProcessor(tracker, logger)
	return NewAgentHub(tracker, processor, logger)
}

func TestAgentHubSendToAgent(t *testing.T) {
	hub := newTestAgentHub()
	go hub.Run()

	client := &AgentClient{
		identity: "agent-1",
		hub:      hub,
		send:     make(chan []byte, 4),
		done:     make(chan struct{}),
	}

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.AgentCount() != 1 {
		t.Fatalf("expected 1 agent, got %d", hub.AgentCount())
	}

	if !hub.SendToAgent("agent-1", []byte("hello")) {
		t.Error("expected send to registered agent to succeed")
	}

	select {
	case msg := <-client.send:
		if string(msg) != "hello" {
			t.Errorf("expected hello, got %s", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("agent did not receive message")
	}

	if hub.SendToAgent("agent-2", []byte("hello")) {
		t.Error("expected send to unknown agent to fail")
	}
}

func TestAgentHubReconnectReplacesClient(t *testing.T) {
	hub := newTestAgentHub()
	go hub.Run()

	first := &AgentClient{
		identity: "agent-1",
		hub:      hub,
		send:     make(chan []byte, 4),
		done:     make(chan struct{}),
	}
	second := &AgentClient{
		identity: "agent-1",
		hub:      hub,
		send:     make(chan []byte, 4),
		done:     make(chan struct{}),
	}

	hub.register <- first
	hub.register <- second
	time.Sleep(10 * time.Millisecond)

	if hub.AgentCount() != 1 {
		t.Fatalf("expected 1 agent after reconnect, got %d", hub.AgentCount())
	}

	// The stale client unregistering must not evict the replacement
	hub.unregister <- first
	time.Sleep(10 * time.Millisecond)

	if hub.AgentCount() != 1 {
		t.Errorf("expected replacement to survive stale unregister, got %d agents", hub.AgentCount())
	}

	if !hub.SendToAgent("agent-1", []byte("ping")) {
		t.Error("expected send to replacement client to succeed")
	}

	select {
	case <-second.send:
		// Replacement received the message
	case <-time.After(100 * time.Millisecond):
		t.Error("replacement client did not receive message")
	}
}

func TestAgentHubForceEndCall(t *testing.T) {
	hub := newTestAgentHub()
	go hub.Run()

	client := &AgentClient{
		identity: "agent-1",
		hub:      hub,
		send:     make(chan []byte, 4),
		done:     make(chan struct{}),
	}

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if !hub.ForceEndCall("agent-1", "emergency-fraud-user1-1") {
		t.Fatal("expected force_end_call to be delivered")
	}

	select {
	case msg := <-client.send:
		var fec types.ForceEndCall
		if err := json.Unmarshal(msg, &fec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fec.Type != "force_end_call" {
			t.Errorf("expected type force_end_call, got %s", fec.Type)
		}
		if fec.RoomName != "emergency-fraud-user1-1" {
			t.Errorf("expected room name emergency-fraud-user1-1, got %s", fec.RoomName)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("agent did not receive force_end_call")
	}
}

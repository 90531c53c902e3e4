package websocket

import (
	"encoding/json"
	"sync"

	"github.com/finbuddy/lifeline/backend/internal/ingestion"
	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

// AgentHub maintains the set of active agent WebSocket connections.
// Connections are keyed by identity, so a reconnecting agent replaces
// its old socket instead of appearing twice. A client only enters the
// map once its register message has carried an identity.
type AgentHub struct {
	// Registered agent clients
	agents map[string]*AgentClient // identity -> client

	// Register requests from identified agent clients
	register chan *AgentClient

	// Unregister requests from agent clients
	unregister chan *AgentClient

	// Registration messages from participants
	participantRegister chan *types.ParticipantRegister

	// Heartbeat messages from agents
	heartbeat chan *types.Heartbeat

	// Presence change messages from agents
	presenceChange chan *types.PresenceChange

	// Call complete messages from agents
	callComplete chan *types.CallComplete

	// Mutex to protect agents map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger

	// Presence tracker (for connection status management)
	tracker *presence.Tracker

	// Event processor (for processing participant events)
	processor ingestion.EventProcessor
}

// NewAgentHub creates a new AgentHub
func NewAgentHub(tracker *presence.Tracker, processor ingestion.EventProcessor, logger zerolog.Logger) *AgentHub {
	return &AgentHub{
		agents:              make(map[string]*AgentClient),
		register:            make(chan *AgentClient),
		unregister:          make(chan *AgentClient),
		participantRegister: make(chan *types.ParticipantRegister, 100),
		heartbeat:           make(chan *types.Heartbeat, 1000),
		presenceChange:      make(chan *types.PresenceChange, 500),
		callComplete:        make(chan *types.CallComplete, 500),
		logger:              logger,
		tracker:             tracker,
		processor:           processor,
	}
}

// Run starts the hub's main loop
func (h *AgentHub) Run() {
	m := metrics.Get()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// Remove existing client with same identity if any
			if existing, ok := h.agents[client.identity]; ok {
				existing.Close()
				delete(h.agents, client.identity)
			}
			h.agents[client.identity] = client
			h.mu.Unlock()

			m.RecordWebSocketConnect()

			h.logger.Debug().
				Str("identity", client.identity).
				Int("total_agents", h.AgentCount()).
				Msg("agent connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.agents[client.identity]; ok && existing == client {
				delete(h.agents, client.identity)
				client.Close()
				h.tracker.SetOffline(client.identity)
				m.RecordWebSocketDisconnect()

				h.logger.Debug().
					Str("identity", client.identity).
					Int("total_agents", len(h.agents)).
					Msg("agent disconnected")
			}
			h.mu.Unlock()

		case reg := <-h.participantRegister:
			h.processor.ProcessRegister(reg)

		case hb := <-h.heartbeat:
			h.processor.ProcessHeartbeat(hb)

		case pc := <-h.presenceChange:
			h.processor.ProcessPresenceChange(pc)

		case cc := <-h.callComplete:
			h.processor.ProcessCallComplete(cc)
		}
	}
}

// ForceEndCall sends a force_end_call message to the specified agent
func (h *AgentHub) ForceEndCall(agentID, roomName string) bool {
	msg := types.ForceEndCall{
		Type:     "force_end_call",
		RoomName: roomName,
		AgentID:  agentID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal force_end_call")
		return false
	}
	return h.SendToAgent(agentID, data)
}

// ForceDisconnect sends a force_disconnect message to the agent, then closes the connection
func (h *AgentHub) ForceDisconnect(agentID string) bool {
	msg := types.ForceDisconnect{
		Type:     "force_disconnect",
		Identity: agentID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal force_disconnect")
		return false
	}

	// Send the message first
	h.SendToAgent(agentID, data)

	// Then close the connection
	h.mu.Lock()
	client, ok := h.agents[agentID]
	if ok {
		delete(h.agents, agentID)
		client.Close()
		h.tracker.SetOffline(agentID)
		metrics.Get().RecordWebSocketDisconnect()
		h.logger.Info().Str("identity", agentID).Msg("agent force-disconnected")
	}
	h.mu.Unlock()

	return ok
}

// SendToAgent sends a message to one connected agent. Returns false
// when the agent has no live connection or its send buffer is full.
func (h *AgentHub) SendToAgent(agentID string, message []byte) bool {
	h.mu.RLock()
	client, ok := h.agents[agentID]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	return client.safeSend(message)
}

// AgentCount returns the number of connected agents
func (h *AgentHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

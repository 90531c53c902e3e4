package ingestion

import (
	"context"

	"github.com/finbuddy/lifeline/backend/internal/types"
)

// EventProcessor processes participant events from any source (WebSocket
// hub, media-provider adapter, replayed event log)
type EventProcessor interface {
	ProcessRegister(reg *types.ParticipantRegister)
	ProcessHeartbeat(hb *types.Heartbeat)
	ProcessPresenceChange(pc *types.PresenceChange)
	ProcessCallComplete(cc *types.CallComplete)
}

// EventSource represents a source of participant events (AgentHub, media
// provider adapter, etc.)
type EventSource interface {
	// Start begins receiving events and forwarding them to the processor
	Start(ctx context.Context, processor EventProcessor) error

	// SendToAgent sends a message to a specific agent by ID
	SendToAgent(agentID string, message []byte) bool

	// AgentCount returns the number of connected agents
	AgentCount() int
}

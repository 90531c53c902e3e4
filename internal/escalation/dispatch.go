package escalation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

const (
	dispatchInterval = 1 * time.Second

	// offerTTL is how long a pushed case_assign is left standing
	// before the case is offered again, possibly to somebody else
	offerTTL = 15 * time.Second
)

// DispatchStore lists waiting cases for re-offer
type DispatchStore interface {
	ListCasesByStatus(status types.CaseStatus) ([]types.Case, error)
}

type offerRecord struct {
	agentID string
	at      time.Time
}

// DispatchLoop periodically matches waiting cases to available agents.
// It covers the gaps the router's immediate offer cannot: agents
// coming online after the escalation, offers that went unanswered, and
// offers sent to agents who then disconnected.
type DispatchLoop struct {
	store    DispatchStore
	roster   AgentRoster
	sender   AgentSender
	strategy RoutingStrategy
	offered  map[string]offerRecord // caseID -> last offer
	logger   zerolog.Logger
}

// NewDispatchLoop creates a new DispatchLoop
func NewDispatchLoop(store DispatchStore, roster AgentRoster, sender AgentSender, logger zerolog.Logger) *DispatchLoop {
	return &DispatchLoop{
		store:    store,
		roster:   roster,
		sender:   sender,
		strategy: &LongestIdleFirst{},
		offered:  make(map[string]offerRecord),
		logger:   logger.With().Str("component", "dispatch_loop").Logger(),
	}
}

// Start begins the dispatch loop, ticking every second until the
// context is cancelled
func (dl *DispatchLoop) Start(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	dl.logger.Info().Msg("dispatch loop started")

	for {
		select {
		case <-ctx.Done():
			dl.logger.Info().Msg("dispatch loop stopped")
			return
		case <-ticker.C:
			dl.tick()
		}
	}
}

// tick performs a single dispatch pass
func (dl *DispatchLoop) tick() {
	waiting, err := dl.store.ListCasesByStatus(types.CaseStatusWaiting)
	if err != nil {
		dl.logger.Error().Err(err).Msg("failed to list waiting cases")
		return
	}

	dl.prune(waiting)
	if len(waiting) == 0 {
		return
	}

	types.SortCasesByPriority(waiting)

	available := dl.roster.Available()
	now := time.Now()

	for _, c := range waiting {
		if len(available) == 0 {
			return
		}
		if rec, ok := dl.offered[c.CaseID]; ok && now.Sub(rec.at) < offerTTL {
			continue
		}

		agent := dl.strategy.SelectAgent(available)
		if agent == nil {
			return
		}

		dl.send(agent.AgentID, c)
		dl.offered[c.CaseID] = offerRecord{agentID: agent.AgentID, at: now}
		available = without(available, agent.AgentID)
	}
}

// prune drops offer records for cases that left the waiting state
func (dl *DispatchLoop) prune(waiting []types.Case) {
	still := make(map[string]bool, len(waiting))
	for _, c := range waiting {
		still[c.CaseID] = true
	}
	for caseID := range dl.offered {
		if !still[caseID] {
			delete(dl.offered, caseID)
		}
	}
}

func (dl *DispatchLoop) send(agentID string, c types.Case) {
	msg := types.CaseAssign{
		Type:      "case_assign",
		AgentID:   agentID,
		CaseID:    c.CaseID,
		RoomName:  c.RoomName,
		Urgency:   c.Urgency,
		Reason:    c.Reason,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		dl.logger.Error().Err(err).
			Str("case_id", c.CaseID).
			Str("agent_id", agentID).
			Msg("failed to marshal case_assign message")
		return
	}

	if !dl.sender.SendToAgent(agentID, data) {
		dl.logger.Warn().
			Str("case_id", c.CaseID).
			Str("agent_id", agentID).
			Msg("failed to send case_assign to agent")
	}
}

func without(agents []types.AgentPresence, agentID string) []types.AgentPresence {
	remaining := make([]types.AgentPresence, 0, len(agents))
	for _, a := range agents {
		if a.AgentID != agentID {
			remaining = append(remaining, a)
		}
	}
	return remaining
}

package presence

import (
	"context"
	"sync"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultStaleAfter is how long an agent may go without a
	// heartbeat before being forced offline
	DefaultStaleAfter = 90 * time.Second

	staleCheckInterval = 15 * time.Second
)

// Store is the subset of storage the tracker persists through
type Store interface {
	SaveAgentPresence(a types.AgentPresence) error
	ListAgentPresence() ([]types.AgentPresence, error)
}

// Tracker holds the live availability state of human agents. The
// in-memory map is what case routing reads; writes flow through to
// storage in the background so a restart can rebuild the roster.
//
// Invariant: a busy agent is always online. Going offline clears the
// busy flag, and marking busy forces online.
type Tracker struct {
	mu         sync.RWMutex
	agents     map[string]*types.AgentPresence
	store      Store
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewTracker creates a presence tracker. staleAfter <= 0 uses the
// default.
func NewTracker(store Store, staleAfter time.Duration, logger zerolog.Logger) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{
		agents:     make(map[string]*types.AgentPresence),
		store:      store,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "presence").Logger(),
	}
}

// Hydrate loads persisted presence into memory. Agents that were
// online when the previous process died will be swept once their
// heartbeats lapse.
func (t *Tracker) Hydrate() error {
	persisted, err := t.store.ListAgentPresence()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range persisted {
		a := persisted[i]
		t.agents[a.AgentID] = &a
	}

	t.logger.Info().Int("agents", len(persisted)).Msg("presence hydrated from store")
	return nil
}

// SetOnline marks an agent available. StateStart is preserved when the
// agent was already online and idle, so reconnects don't push them to
// the back of the longest-idle order.
func (t *Tracker) SetOnline(agentID, displayName string) types.AgentPresence {
	now := time.Now()

	t.mu.Lock()
	a, exists := t.agents[agentID]
	if !exists {
		a = &types.AgentPresence{AgentID: agentID}
		t.agents[agentID] = a
	}
	if displayName != "" {
		a.DisplayName = displayName
	}
	if !exists || !a.IsOnline || a.IsBusy {
		a.StateStart = now
	}
	a.IsOnline = true
	a.IsBusy = false
	a.LastSeen = now
	a.UpdatedAt = now
	snapshot := *a
	t.mu.Unlock()

	t.logger.Info().Str("agent_id", agentID).Msg("agent online")
	t.persist(snapshot)
	return snapshot
}

// SetOffline marks an agent unavailable and clears the busy flag
func (t *Tracker) SetOffline(agentID string) {
	now := time.Now()

	t.mu.Lock()
	a, exists := t.agents[agentID]
	if !exists {
		t.mu.Unlock()
		return
	}
	a.IsOnline = false
	a.IsBusy = false
	a.StateStart = now
	a.UpdatedAt = now
	snapshot := *a
	t.mu.Unlock()

	t.logger.Info().Str("agent_id", agentID).Msg("agent offline")
	t.persist(snapshot)
}

// SetBusy toggles the busy flag. Setting busy on an agent we have no
// record of still creates one, since a claim proves the agent exists.
func (t *Tracker) SetBusy(agentID string, busy bool) types.AgentPresence {
	now := time.Now()

	t.mu.Lock()
	a, exists := t.agents[agentID]
	if !exists {
		a = &types.AgentPresence{AgentID: agentID}
		t.agents[agentID] = a
	}
	if a.IsBusy != busy {
		a.StateStart = now
	}
	a.IsBusy = busy
	if busy {
		a.IsOnline = true
	}
	a.LastSeen = now
	a.UpdatedAt = now
	snapshot := *a
	t.mu.Unlock()

	t.logger.Info().Str("agent_id", agentID).Bool("busy", busy).Msg("agent busy state changed")
	t.persist(snapshot)
	return snapshot
}

// Heartbeat refreshes an agent's liveness timestamp
func (t *Tracker) Heartbeat(agentID string) {
	t.mu.Lock()
	a, exists := t.agents[agentID]
	if exists {
		a.LastSeen = time.Now()
	}
	t.mu.Unlock()
}

// Get returns a copy of one agent's presence
func (t *Tracker) Get(agentID string) (types.AgentPresence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, exists := t.agents[agentID]
	if !exists {
		return types.AgentPresence{}, false
	}
	return *a, true
}

// Available returns agents that are online and not busy
func (t *Tracker) Available() []types.AgentPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	available := make([]types.AgentPresence, 0, len(t.agents))
	for _, a := range t.agents {
		if a.Available() {
			available = append(available, *a)
		}
	}
	return available
}

// List returns the full roster with derived connection status
func (t *Tracker) List() []types.AgentInfo {
	now := time.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	roster := make([]types.AgentInfo, 0, len(t.agents))
	for _, a := range t.agents {
		info := types.AgentInfo{AgentPresence: *a}
		switch {
		case !a.IsOnline:
			info.ConnectionStatus = types.StatusDisconnected
		case now.Sub(a.LastSeen) > t.staleAfter:
			info.ConnectionStatus = types.StatusStale
		default:
			info.ConnectionStatus = types.StatusConnected
		}
		roster = append(roster, info)
	}
	return roster
}

// BusyAgents returns the IDs of agents currently marked busy
func (t *Tracker) BusyAgents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var busy []string
	for id, a := range t.agents {
		if a.IsBusy {
			busy = append(busy, id)
		}
	}
	return busy
}

// RegisterOffline seeds a roster entry without bringing the agent
// online. Known agents keep their current state; only the display name
// is refreshed.
func (t *Tracker) RegisterOffline(agentID, displayName string) {
	now := time.Now()

	t.mu.Lock()
	a, exists := t.agents[agentID]
	if !exists {
		a = &types.AgentPresence{
			AgentID:    agentID,
			StateStart: now,
			UpdatedAt:  now,
		}
		t.agents[agentID] = a
	}
	if displayName != "" {
		a.DisplayName = displayName
	}
	snapshot := *a
	t.mu.Unlock()

	if !exists {
		t.persist(snapshot)
	}
}

// Clear drops all in-memory presence and returns how many agents were
// tracked. Persisted rows are untouched; a Hydrate can restore them.
func (t *Tracker) Clear() int {
	t.mu.Lock()
	cleared := len(t.agents)
	t.agents = make(map[string]*types.AgentPresence)
	t.mu.Unlock()

	t.logger.Info().Int("cleared", cleared).Msg("presence cleared")
	return cleared
}

// Counts returns how many agents are online and how many of those are
// busy
func (t *Tracker) Counts() (online, busy int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.agents {
		if a.IsOnline {
			online++
			if a.IsBusy {
				busy++
			}
		}
	}
	return online, busy
}

// StartStaleChecker periodically forces agents offline once their
// heartbeats lapse, so crashed agent processes don't hold a spot in
// the routing order forever
func (t *Tracker) StartStaleChecker(ctx context.Context) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	t.logger.Info().Dur("stale_after", t.staleAfter).Msg("stale checker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("stale checker stopped")
			return
		case <-ticker.C:
			for _, agentID := range t.staleAgents() {
				t.logger.Warn().Str("agent_id", agentID).Msg("agent heartbeat lapsed, forcing offline")
				t.SetOffline(agentID)
			}
		}
	}
}

func (t *Tracker) staleAgents() []string {
	cutoff := time.Now().Add(-t.staleAfter)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var stale []string
	for id, a := range t.agents {
		if a.IsOnline && a.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

func (t *Tracker) persist(a types.AgentPresence) {
	go func() {
		if err := t.store.SaveAgentPresence(a); err != nil {
			t.logger.Error().Err(err).Str("agent_id", a.AgentID).Msg("failed to persist presence")
		}
	}()
}

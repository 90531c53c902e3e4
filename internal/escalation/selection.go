package escalation

import (
	"github.com/finbuddy/lifeline/backend/internal/types"
)

// RoutingStrategy selects the best agent to take over a case
type RoutingStrategy interface {
	SelectAgent(available []types.AgentPresence) *types.AgentPresence
}

// LongestIdleFirst selects the agent who has been idle the longest
type LongestIdleFirst struct{}

// SelectAgent picks the available agent with the oldest StateStart
// time, falling back to agent ID order when two agents tie
func (l *LongestIdleFirst) SelectAgent(available []types.AgentPresence) *types.AgentPresence {
	if len(available) == 0 {
		return nil
	}

	oldest := &available[0]
	for i := 1; i < len(available); i++ {
		candidate := &available[i]
		if candidate.StateStart.Before(oldest.StateStart) {
			oldest = candidate
			continue
		}
		if candidate.StateStart.Equal(oldest.StateStart) && candidate.AgentID < oldest.AgentID {
			oldest = candidate
		}
	}
	return oldest
}

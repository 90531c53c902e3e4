package session

import (
	"context"
	"errors"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultPendingTimeout is how long a pending session may wait for
	// its first participant before the sweeper expires it
	DefaultPendingTimeout = 120 * time.Second

	// DefaultSweepInterval is how often the sweeper runs
	DefaultSweepInterval = 30 * time.Second
)

// Sweeper expires pending sessions nobody ever connected to, puts
// claimed-but-never-connected cases back in the feed, and releases
// agents whose sessions have all settled
type Sweeper struct {
	store          Store
	presence       Presence
	pendingTimeout time.Duration
	interval       time.Duration
	logger         zerolog.Logger
}

// NewSweeper creates a session sweeper. Non-positive durations fall
// back to defaults.
func NewSweeper(store Store, presence Presence, pendingTimeout, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:          store,
		presence:       presence,
		pendingTimeout: pendingTimeout,
		interval:       interval,
		logger:         logger.With().Str("component", "session_sweeper").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("pending_timeout", s.pendingTimeout).
		Dur("interval", s.interval).
		Msg("session sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	s.expirePending()
	s.reconcileBusy()
}

// expirePending moves overdue pending sessions to timeout
func (s *Sweeper) expirePending() {
	pending, err := s.store.ListSessionsByStatus(types.SessionStatusPending)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pending sessions")
		return
	}

	cutoff := time.Now().Add(-s.pendingTimeout)
	for _, sr := range pending {
		if sr.CreatedAt.After(cutoff) {
			continue
		}

		now := time.Now()
		updated, err := s.store.TransitionSession(sr.SessionID, storage.SessionTransition{
			To:      types.SessionStatusTimeout,
			From:    []types.SessionStatus{types.SessionStatusPending},
			EndedAt: &now,
		})
		if err != nil {
			// Settled between the list and the update
			if errors.Is(err, storage.ErrInvalidTransition) {
				continue
			}
			s.logger.Error().Err(err).
				Str("session_id", sr.SessionID).
				Msg("failed to expire session")
			continue
		}

		metrics.Get().RecordSessionTimeout()
		if updated.AgentID != "" {
			s.presence.SetBusy(updated.AgentID, false)
		}

		// A claimed case whose agent never joined goes back to the
		// feed. Reopen is conditional; a case that was never claimed
		// or is already closed is left alone.
		if updated.CaseID != "" {
			if _, rerr := s.store.ReopenCase(updated.CaseID); rerr != nil &&
				!errors.Is(rerr, storage.ErrInvalidTransition) && !errors.Is(rerr, storage.ErrNotFound) {
				s.logger.Error().Err(rerr).
					Str("case_id", updated.CaseID).
					Msg("failed to reopen case after timeout")
			}
		}

		s.logger.Warn().
			Str("session_id", updated.SessionID).
			Str("room_name", updated.RoomName).
			Str("user_id", updated.UserID).
			Msg("pending session timed out")
	}
}

// reconcileBusy releases agents marked busy whose sessions have all
// reached a terminal state. This is the safety net for missed end
// events.
func (s *Sweeper) reconcileBusy() {
	for _, agentID := range s.presence.BusyAgents() {
		sessions, err := s.store.ListSessionsByAgent(agentID)
		if err != nil {
			s.logger.Error().Err(err).
				Str("agent_id", agentID).
				Msg("failed to list agent sessions")
			continue
		}

		live := false
		for _, sr := range sessions {
			if !sr.Status.Terminal() {
				live = true
				break
			}
		}
		if live {
			continue
		}

		s.logger.Info().
			Str("agent_id", agentID).
			Msg("busy agent has no live session, releasing")
		s.presence.SetBusy(agentID, false)
	}
}

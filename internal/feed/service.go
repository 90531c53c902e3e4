package feed

import (
	"errors"

	"github.com/finbuddy/lifeline/backend/internal/alerts"
	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

// Store is the storage surface the feed reads and claims through
type Store interface {
	GetCase(caseID string) (*types.Case, error)
	ListCasesByStatus(status types.CaseStatus) ([]types.Case, error)
	ClaimCase(caseID, agentID string) (*types.Case, error)
	CloseCase(caseID string) (*types.Case, error)
	GetSessionByRoom(roomName string) (*types.SessionRequest, error)
	AssignSessionAgent(sessionID, agentID string) (*types.SessionRequest, error)
}

// ErrAgentUnavailable rejects a claim from an agent that is offline or
// already on a case
var ErrAgentUnavailable = errors.New("agent not eligible to claim")

// Presence gates claims on live availability and marks agents busy as
// they take cases
type Presence interface {
	Get(agentID string) (types.AgentPresence, bool)
	SetBusy(agentID string, busy bool) types.AgentPresence
}

// SessionEnder settles the session linked to a closing case
type SessionEnder interface {
	EndByRoom(roomName, reason string) (*types.SessionRequest, error)
}

// ClaimResult is what a successful claim hands back to the agent
type ClaimResult struct {
	Case    *types.Case           `json:"case"`
	Session *types.SessionRequest `json:"session,omitempty"`
}

// Service assembles the live case feed and runs the claim and close
// flows on top of the store's conditional updates
type Service struct {
	store    Store
	presence Presence
	sessions SessionEnder
	logger   zerolog.Logger
}

// NewService creates a feed service
func NewService(store Store, presence Presence, sessions SessionEnder, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		presence: presence,
		sessions: sessions,
		logger:   logger.With().Str("component", "case_feed").Logger(),
	}
}

// List returns the waiting cases in display order, most urgent first,
// with age alerts attached
func (s *Service) List() ([]types.FeedEntry, error) {
	waiting, err := s.store.ListCasesByStatus(types.CaseStatusWaiting)
	if err != nil {
		return nil, err
	}
	types.SortCasesByPriority(waiting)

	entries := make([]types.FeedEntry, len(waiting))
	for i, c := range waiting {
		entries[i] = types.FeedEntry{Case: c}
	}
	alerts.CheckCaseAlerts(entries)
	return entries, nil
}

// Get returns one case regardless of status
func (s *Service) Get(caseID string) (*types.Case, error) {
	return s.store.GetCase(caseID)
}

// Claim attempts to take a case for an agent. Exactly one of N
// concurrent claims succeeds; the rest get storage.ErrCaseConflict,
// which is an expected outcome, not a failure. The availability check
// is advisory only; the conditional update on the case is what decides
// the race.
func (s *Service) Claim(caseID, agentID string) (*ClaimResult, error) {
	if p, ok := s.presence.Get(agentID); !ok || !p.Available() {
		s.logger.Info().
			Str("case_id", caseID).
			Str("agent_id", agentID).
			Msg("claim rejected, agent unavailable")
		return nil, ErrAgentUnavailable
	}

	c, err := s.store.ClaimCase(caseID, agentID)
	if err != nil {
		if errors.Is(err, storage.ErrCaseConflict) {
			metrics.Get().RecordClaimConflict()
			s.logger.Info().
				Str("case_id", caseID).
				Str("agent_id", agentID).
				Msg("claim lost the race")
		}
		return nil, err
	}
	metrics.Get().RecordClaim()

	result := &ClaimResult{Case: c}

	// Carry the agent onto the linked session so credentials and
	// session pushes name the right person
	if c.RoomName != "" {
		sr, err := s.store.GetSessionByRoom(c.RoomName)
		switch {
		case err == nil:
			if assigned, aerr := s.store.AssignSessionAgent(sr.SessionID, agentID); aerr == nil {
				result.Session = assigned
			} else {
				// Session already advanced; the claim stands anyway
				s.logger.Warn().Err(aerr).
					Str("case_id", caseID).
					Str("session_id", sr.SessionID).
					Msg("could not assign agent to session")
				result.Session = sr
			}
		case errors.Is(err, storage.ErrNotFound):
			s.logger.Warn().
				Str("case_id", caseID).
				Str("room_name", c.RoomName).
				Msg("claimed case has no session request")
		default:
			s.logger.Error().Err(err).
				Str("case_id", caseID).
				Msg("failed to look up linked session")
		}
	}

	s.presence.SetBusy(agentID, true)

	s.logger.Info().
		Str("case_id", caseID).
		Str("agent_id", agentID).
		Msg("case claimed")
	return result, nil
}

// Close settles a case and ends whatever session hangs off it. Safe to
// call on an already-claimed case; closing a closed case returns
// storage.ErrInvalidTransition.
func (s *Service) Close(caseID string) (*types.Case, error) {
	c, err := s.store.CloseCase(caseID)
	if err != nil {
		return nil, err
	}
	metrics.Get().RecordCaseClosed()

	if c.RoomName != "" {
		if _, err := s.sessions.EndByRoom(c.RoomName, "case_closed"); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).
				Str("case_id", caseID).
				Str("room_name", c.RoomName).
				Msg("failed to settle linked session")
		}
	}

	s.logger.Info().
		Str("case_id", caseID).
		Msg("case closed")
	return c, nil
}

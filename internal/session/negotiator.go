package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionSettled is returned when a credential is requested for a
// session that already reached a terminal state
var ErrSessionSettled = errors.New("session already settled")

// mintRetries is how many extra attempts a failed credential mint gets
// before the error surfaces to the caller
const mintRetries = 2

// Store is the storage surface of the negotiator
type Store interface {
	SaveSession(sr types.SessionRequest) error
	GetSession(sessionID string) (*types.SessionRequest, error)
	GetSessionByRoom(roomName string) (*types.SessionRequest, error)
	ListSessionsByStatus(status types.SessionStatus) ([]types.SessionRequest, error)
	ListSessionsByAgent(agentID string) ([]types.SessionRequest, error)
	TransitionSession(sessionID string, tr storage.SessionTransition) (*types.SessionRequest, error)
	CloseCase(caseID string) (*types.Case, error)
	ReopenCase(caseID string) (*types.Case, error)
}

// Presence releases agents as their sessions settle
type Presence interface {
	SetBusy(agentID string, busy bool) types.AgentPresence
	BusyAgents() []string
}

// Negotiator owns the session request lifecycle: creation, credential
// hand-out, the pending->active flip when the media provider sees the
// first participant, and idempotent teardown.
type Negotiator struct {
	store    Store
	presence Presence
	minter   *Minter
	logger   zerolog.Logger
}

// NewNegotiator creates a session negotiator
func NewNegotiator(store Store, presence Presence, minter *Minter, logger zerolog.Logger) *Negotiator {
	return &Negotiator{
		store:    store,
		presence: presence,
		minter:   minter,
		logger:   logger.With().Str("component", "session_negotiator").Logger(),
	}
}

// CreateParams describes a directly requested session, outside the
// escalation flow
type CreateParams struct {
	UserID        string
	AgentID       string
	CaseID        string
	RoomName      string
	Priority      string // severity word: critical/high/medium/low
	EmergencyType string
	Description   string
}

// Create opens a pending session request. RoomName is generated when
// empty.
func (n *Negotiator) Create(p CreateParams) (*types.SessionRequest, error) {
	if p.UserID == "" {
		return nil, errors.New("user id is required")
	}

	now := time.Now()
	if p.RoomName == "" {
		p.RoomName = fmt.Sprintf("session-%s-%d", p.UserID, now.UnixMilli())
	}

	sr := types.SessionRequest{
		SessionID:     uuid.New().String(),
		CaseID:        p.CaseID,
		UserID:        p.UserID,
		AgentID:       p.AgentID,
		RoomName:      p.RoomName,
		Status:        types.SessionStatusPending,
		Priority:      p.Priority,
		EmergencyType: p.EmergencyType,
		Description:   p.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := n.store.SaveSession(sr); err != nil {
		return nil, fmt.Errorf("failed to persist session request: %w", err)
	}

	n.logger.Info().
		Str("session_id", sr.SessionID).
		Str("user_id", sr.UserID).
		Str("room_name", sr.RoomName).
		Msg("session request created")
	return &sr, nil
}

// IssueCredential hands a participant the token and connection URL for
// a session's room. The session stays pending; only the provider's
// connect event activates it.
func (n *Negotiator) IssueCredential(roomName, identity, displayName string) (*types.SessionCredential, *types.SessionRequest, error) {
	sr, err := n.store.GetSessionByRoom(roomName)
	if err != nil {
		return nil, nil, err
	}
	if sr.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: session %s is %s", ErrSessionSettled, sr.SessionID, sr.Status)
	}

	cred, err := n.mintWithRetry(roomName, identity, displayName)
	if err != nil {
		return nil, nil, err
	}

	metrics.Get().RecordSessionIssued()
	n.logger.Info().
		Str("session_id", sr.SessionID).
		Str("room_name", roomName).
		Str("identity", identity).
		Msg("credential issued")
	return cred, sr, nil
}

// A failed mint is retryable per the error contract; the session is
// left untouched either way
func (n *Negotiator) mintWithRetry(roomName, identity, displayName string) (*types.SessionCredential, error) {
	var lastErr error
	for attempt := 0; attempt <= mintRetries; attempt++ {
		if attempt > 0 {
			metrics.Get().RecordCredentialRetry()
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		cred, err := n.minter.Mint(roomName, identity, displayName)
		if err == nil {
			return cred, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Activate flips a pending session to active when the media provider
// reports the first participant in the room. Repeat deliveries of the
// same event are absorbed.
func (n *Negotiator) Activate(roomName string) (*types.SessionRequest, error) {
	sr, err := n.store.GetSessionByRoom(roomName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updated, err := n.store.TransitionSession(sr.SessionID, storage.SessionTransition{
		To:          types.SessionStatusActive,
		From:        []types.SessionStatus{types.SessionStatusPending},
		ConnectedAt: &now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Lost a race or the event came twice; active is fine,
			// anything else is a real protocol violation
			current, gerr := n.store.GetSession(sr.SessionID)
			if gerr == nil && current.Status == types.SessionStatusActive {
				return current, nil
			}
		}
		return nil, err
	}

	metrics.Get().RecordSessionActivated()
	n.logger.Info().
		Str("session_id", updated.SessionID).
		Str("room_name", roomName).
		Msg("session active")
	return updated, nil
}

// End settles a session: active becomes completed with a measured
// duration, pending becomes cancelled, and the linked case is closed.
// Calling End on a settled session is a no-op returning the current
// record, so both sides of a call may report the end.
func (n *Negotiator) End(sessionID, reason string) (*types.SessionRequest, error) {
	sr, err := n.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return n.end(sr, reason)
}

// EndByRoom is End keyed by room name
func (n *Negotiator) EndByRoom(roomName, reason string) (*types.SessionRequest, error) {
	sr, err := n.store.GetSessionByRoom(roomName)
	if err != nil {
		return nil, err
	}
	return n.end(sr, reason)
}

func (n *Negotiator) end(sr *types.SessionRequest, reason string) (*types.SessionRequest, error) {
	if sr.Status.Terminal() {
		return sr, nil
	}

	now := time.Now()
	tr := storage.SessionTransition{EndedAt: &now}

	switch sr.Status {
	case types.SessionStatusActive:
		tr.To = types.SessionStatusCompleted
		tr.From = []types.SessionStatus{types.SessionStatusActive}
		if sr.ConnectedAt != nil {
			duration := now.Sub(*sr.ConnectedAt).Seconds()
			tr.CallDuration = &duration
		}
	default:
		tr.To = types.SessionStatusCancelled
		tr.From = []types.SessionStatus{types.SessionStatusPending}
	}

	updated, err := n.store.TransitionSession(sr.SessionID, tr)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Somebody else settled it first
			current, gerr := n.store.GetSession(sr.SessionID)
			if gerr == nil && current.Status.Terminal() {
				return current, nil
			}
		}
		return nil, err
	}

	switch updated.Status {
	case types.SessionStatusCompleted:
		metrics.Get().RecordSessionCompleted()
	case types.SessionStatusCancelled:
		metrics.Get().RecordSessionCancelled()
	}

	if updated.AgentID != "" {
		n.presence.SetBusy(updated.AgentID, false)
	}

	// Settling a session settles its case. When the case-close flow ran
	// first the case is already closed; timeouts are swept separately
	// and keep the case in the feed.
	if updated.CaseID != "" {
		if _, cerr := n.store.CloseCase(updated.CaseID); cerr != nil &&
			!errors.Is(cerr, storage.ErrInvalidTransition) && !errors.Is(cerr, storage.ErrNotFound) {
			n.logger.Warn().Err(cerr).
				Str("session_id", updated.SessionID).
				Str("case_id", updated.CaseID).
				Msg("failed to close linked case")
		}
	}

	n.logger.Info().
		Str("session_id", updated.SessionID).
		Str("room_name", updated.RoomName).
		Str("status", string(updated.Status)).
		Str("reason", reason).
		Float64("duration_seconds", updated.CallDuration).
		Msg("session settled")
	return updated, nil
}

// Get returns one session by ID
func (n *Negotiator) Get(sessionID string) (*types.SessionRequest, error) {
	return n.store.GetSession(sessionID)
}

// GetByRoom returns one session by room name
func (n *Negotiator) GetByRoom(roomName string) (*types.SessionRequest, error) {
	return n.store.GetSessionByRoom(roomName)
}

// ListByStatus returns sessions in one lifecycle state
func (n *Negotiator) ListByStatus(status types.SessionStatus) ([]types.SessionRequest, error) {
	return n.store.ListSessionsByStatus(status)
}

// ListByAgent returns an agent's session history
func (n *Negotiator) ListByAgent(agentID string) ([]types.SessionRequest, error) {
	return n.store.ListSessionsByAgent(agentID)
}

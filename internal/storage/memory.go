package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/changefeed"
	"github.com/finbuddy/lifeline/backend/internal/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrCaseConflict is returned when a claim loses the race: the case
	// is no longer waiting. Expected under concurrency; callers refresh.
	ErrCaseConflict = errors.New("case already claimed")

	// ErrInvalidTransition is returned when a session status change is
	// not legal from the record's current status
	ErrInvalidTransition = errors.New("illegal session transition")
)

// SessionTransition describes one conditional session status advance.
// The update applies only if the current status is in From.
type SessionTransition struct {
	To           types.SessionStatus
	From         []types.SessionStatus
	AgentID      string // assign when non-empty
	ConnectedAt  *time.Time
	EndedAt      *time.Time
	CallDuration *float64
}

// Store defines the storage interface
type Store interface {
	// Cases
	SaveCase(c types.Case) error
	GetCase(caseID string) (*types.Case, error)
	ListCasesByStatus(status types.CaseStatus) ([]types.Case, error)
	ClaimCase(caseID, agentID string) (*types.Case, error)
	CloseCase(caseID string) (*types.Case, error)
	ReopenCase(caseID string) (*types.Case, error)

	// Agent presence
	SaveAgentPresence(a types.AgentPresence) error
	GetAgentPresence(agentID string) (*types.AgentPresence, error)
	ListAgentPresence() ([]types.AgentPresence, error)

	// Conversation messages
	SaveMessage(m types.Message) error
	ListRecentMessages(userID string, since time.Time) ([]types.Message, error)
	StampEscalated(userID, roomName string, since time.Time) (int, error)

	// Session requests
	SaveSession(s types.SessionRequest) error
	GetSession(sessionID string) (*types.SessionRequest, error)
	GetSessionByRoom(roomName string) (*types.SessionRequest, error)
	ListSessionsByStatus(status types.SessionStatus) ([]types.SessionRequest, error)
	ListSessionsByAgent(agentID string) ([]types.SessionRequest, error)
	AssignSessionAgent(sessionID, agentID string) (*types.SessionRequest, error)
	TransitionSession(sessionID string, tr SessionTransition) (*types.SessionRequest, error)

	TruncateAll() error
}

// MemoryStore is a mutex-guarded in-memory Store used when DynamoDB is
// disabled (DYNAMO_MODE=none) and by package tests. It provides the
// same conditional-update semantics as the DynamoDB store and publishes
// change events to the bus directly, since there is no stream to poll.
type MemoryStore struct {
	cases    map[string]types.Case
	agents   map[string]types.AgentPresence
	messages map[string][]types.Message // userID -> ordered by CreatedAt
	sessions map[string]types.SessionRequest
	rooms    map[string]string // roomName -> sessionID
	bus      *changefeed.Bus
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore. The bus may be nil.
func NewMemoryStore(bus *changefeed.Bus) *MemoryStore {
	return &MemoryStore{
		cases:    make(map[string]types.Case),
		agents:   make(map[string]types.AgentPresence),
		messages: make(map[string][]types.Message),
		sessions: make(map[string]types.SessionRequest),
		rooms:    make(map[string]string),
		bus:      bus,
	}
}

func (s *MemoryStore) publishCase(op changefeed.Op, c types.Case) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(changefeed.Event{Table: "cases", Op: op, Case: &c})
}

func (s *MemoryStore) publishSession(op changefeed.Op, sr types.SessionRequest) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(changefeed.Event{Table: "sessions", Op: op, Session: &sr})
}

func (s *MemoryStore) publishAgent(op changefeed.Op, a types.AgentPresence) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(changefeed.Event{Table: "agents", Op: op, Agent: &a})
}

func (s *MemoryStore) SaveCase(c types.Case) error {
	s.mu.Lock()
	_, existed := s.cases[c.CaseID]
	s.cases[c.CaseID] = c
	s.mu.Unlock()

	op := changefeed.OpInsert
	if existed {
		op = changefeed.OpModify
	}
	s.publishCase(op, c)
	return nil
}

func (s *MemoryStore) GetCase(caseID string) (*types.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListCasesByStatus(status types.CaseStatus) ([]types.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Case, 0)
	for _, c := range s.cases {
		if c.Status == status {
			result = append(result, c)
		}
	}
	return result, nil
}

// ClaimCase atomically moves a waiting case to connected with the given
// agent. Exactly one of N concurrent claimers succeeds; the rest get
// ErrCaseConflict.
func (s *MemoryStore) ClaimCase(caseID, agentID string) (*types.Case, error) {
	s.mu.Lock()
	c, ok := s.cases[caseID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if c.Status != types.CaseStatusWaiting {
		s.mu.Unlock()
		return nil, ErrCaseConflict
	}
	c.Status = types.CaseStatusConnected
	c.AgentID = agentID
	c.UpdatedAt = time.Now()
	s.cases[caseID] = c
	s.mu.Unlock()

	s.publishCase(changefeed.OpModify, c)
	return &c, nil
}

func (s *MemoryStore) CloseCase(caseID string) (*types.Case, error) {
	s.mu.Lock()
	c, ok := s.cases[caseID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if c.Status == types.CaseStatusClosed {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	c.Status = types.CaseStatusClosed
	c.UpdatedAt = time.Now()
	s.cases[caseID] = c
	s.mu.Unlock()

	s.publishCase(changefeed.OpModify, c)
	return &c, nil
}

// ReopenCase returns a claimed case to the waiting feed, clearing the
// agent. Conditional on connected, so a closed case stays closed.
func (s *MemoryStore) ReopenCase(caseID string) (*types.Case, error) {
	s.mu.Lock()
	c, ok := s.cases[caseID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if c.Status != types.CaseStatusConnected {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	c.Status = types.CaseStatusWaiting
	c.AgentID = ""
	c.UpdatedAt = time.Now()
	s.cases[caseID] = c
	s.mu.Unlock()

	s.publishCase(changefeed.OpModify, c)
	return &c, nil
}

func (s *MemoryStore) SaveAgentPresence(a types.AgentPresence) error {
	s.mu.Lock()
	_, existed := s.agents[a.AgentID]
	s.agents[a.AgentID] = a
	s.mu.Unlock()

	op := changefeed.OpInsert
	if existed {
		op = changefeed.OpModify
	}
	s.publishAgent(op, a)
	return nil
}

func (s *MemoryStore) GetAgentPresence(agentID string) (*types.AgentPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListAgentPresence() ([]types.AgentPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.AgentPresence, 0, len(s.agents))
	for _, a := range s.agents {
		result = append(result, a)
	}
	return result, nil
}

func (s *MemoryStore) SaveMessage(m types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[m.UserID] = append(s.messages[m.UserID], m)
	return nil
}

func (s *MemoryStore) ListRecentMessages(userID string, since time.Time) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Message, 0)
	for _, m := range s.messages[userID] {
		if m.CreatedAt.After(since) {
			result = append(result, m)
		}
	}
	return result, nil
}

// StampEscalated marks the user's recent unescalated messages with the
// room name so the agent's case view carries context
func (s *MemoryStore) StampEscalated(userID, roomName string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamped := 0
	msgs := s.messages[userID]
	for i := range msgs {
		if msgs[i].Escalated || !msgs[i].CreatedAt.After(since) {
			continue
		}
		msgs[i].Escalated = true
		msgs[i].RoomName = roomName
		stamped++
	}
	return stamped, nil
}

func (s *MemoryStore) SaveSession(sr types.SessionRequest) error {
	s.mu.Lock()
	_, existed := s.sessions[sr.SessionID]
	s.sessions[sr.SessionID] = sr
	s.rooms[sr.RoomName] = sr.SessionID
	s.mu.Unlock()

	op := changefeed.OpInsert
	if existed {
		op = changefeed.OpModify
	}
	s.publishSession(op, sr)
	return nil
}

func (s *MemoryStore) GetSession(sessionID string) (*types.SessionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sr, nil
}

func (s *MemoryStore) GetSessionByRoom(roomName string) (*types.SessionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.rooms[roomName]
	if !ok {
		return nil, ErrNotFound
	}
	sr := s.sessions[id]
	return &sr, nil
}

func (s *MemoryStore) ListSessionsByStatus(status types.SessionStatus) ([]types.SessionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.SessionRequest, 0)
	for _, sr := range s.sessions {
		if sr.Status == status {
			result = append(result, sr)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListSessionsByAgent(agentID string) ([]types.SessionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.SessionRequest, 0)
	for _, sr := range s.sessions {
		if sr.AgentID == agentID {
			result = append(result, sr)
		}
	}
	return result, nil
}

// AssignSessionAgent fills the agent into a still-pending session at
// claim time. The status does not change; the session goes active only
// on a provider connect event.
func (s *MemoryStore) AssignSessionAgent(sessionID, agentID string) (*types.SessionRequest, error) {
	s.mu.Lock()
	sr, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if sr.Status != types.SessionStatusPending {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	sr.AgentID = agentID
	sr.UpdatedAt = time.Now()
	s.sessions[sessionID] = sr
	s.mu.Unlock()

	s.publishSession(changefeed.OpModify, sr)
	return &sr, nil
}

// TransitionSession applies a conditional status advance. The update
// succeeds only if the current status is in tr.From.
func (s *MemoryStore) TransitionSession(sessionID string, tr SessionTransition) (*types.SessionRequest, error) {
	s.mu.Lock()
	sr, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	legal := false
	for _, from := range tr.From {
		if sr.Status == from {
			legal = true
			break
		}
	}
	if !legal {
		s.mu.Unlock()
		return nil, ErrInvalidTransition
	}

	sr.Status = tr.To
	sr.UpdatedAt = time.Now()
	if tr.AgentID != "" {
		sr.AgentID = tr.AgentID
	}
	if tr.ConnectedAt != nil {
		sr.ConnectedAt = tr.ConnectedAt
	}
	if tr.EndedAt != nil {
		sr.EndedAt = tr.EndedAt
	}
	if tr.CallDuration != nil {
		sr.CallDuration = *tr.CallDuration
	}
	s.sessions[sessionID] = sr
	s.mu.Unlock()

	s.publishSession(changefeed.OpModify, sr)
	return &sr, nil
}

func (s *MemoryStore) TruncateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cases = make(map[string]types.Case)
	s.agents = make(map[string]types.AgentPresence)
	s.messages = make(map[string][]types.Message)
	s.sessions = make(map[string]types.SessionRequest)
	s.rooms = make(map[string]string)
	return nil
}

package types

import (
	"sort"
	"time"
)

// CaseStatus represents the lifecycle state of an escalation case
type CaseStatus string

const (
	CaseStatusWaiting   CaseStatus = "waiting"
	CaseStatusConnected CaseStatus = "connected"
	CaseStatusClosed    CaseStatus = "closed"
)

// Case is a tracked instance of a user issue requiring human attention.
// Cases are never deleted, only closed.
type Case struct {
	CaseID        string     `json:"caseId" dynamodbav:"CaseID"`
	UserID        string     `json:"userId" dynamodbav:"UserID"`
	AgentID       string     `json:"agentId,omitempty" dynamodbav:"AgentID"` // empty until claimed
	Status        CaseStatus `json:"status" dynamodbav:"Status"`
	Urgency       int        `json:"urgency" dynamodbav:"Urgency"` // 0-10, higher is more urgent
	Reason        string     `json:"reason" dynamodbav:"Reason"`
	EmergencyType string     `json:"emergencyType,omitempty" dynamodbav:"EmergencyType"`
	RoomName      string     `json:"roomName,omitempty" dynamodbav:"RoomName"`
	CreatedAt     time.Time  `json:"createdAt" dynamodbav:"CreatedAt"`
	UpdatedAt     time.Time  `json:"updatedAt" dynamodbav:"UpdatedAt"`
}

// SortCasesByPriority orders cases most-urgent first. Ties go to the
// older case, then to case ID so the order is stable across callers.
func SortCasesByPriority(cases []Case) {
	sort.Slice(cases, func(i, j int) bool {
		if cases[i].Urgency != cases[j].Urgency {
			return cases[i].Urgency > cases[j].Urgency
		}
		if !cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].CreatedAt.Before(cases[j].CreatedAt)
		}
		return cases[i].CaseID < cases[j].CaseID
	})
}

// MessageOrigin distinguishes user messages from assistant replies
type MessageOrigin string

const (
	OriginUser      MessageOrigin = "user"
	OriginAssistant MessageOrigin = "assistant"
)

// Message is one conversation turn. Append-only; the only mutation is
// the retroactive escalated/room stamp when a case opens from recent
// context.
type Message struct {
	MessageID     string        `json:"messageId" dynamodbav:"MessageID"`
	UserID        string        `json:"userId" dynamodbav:"UserID"`
	Body          string        `json:"body" dynamodbav:"Body"`
	Origin        MessageOrigin `json:"origin" dynamodbav:"Origin"`
	PriorityScore *int          `json:"priorityScore,omitempty" dynamodbav:"PriorityScore"`
	Escalated     bool          `json:"escalated" dynamodbav:"Escalated"`
	RoomName      string        `json:"roomName,omitempty" dynamodbav:"RoomName"`
	CreatedAt     time.Time     `json:"createdAt" dynamodbav:"CreatedAt"`
}

// SessionStatus represents the lifecycle state of a call session request
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusTimeout   SessionStatus = "timeout"
)

// sessionTransitions lists the legal next states per current state.
// Terminal states have no entries.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending: {SessionStatusActive, SessionStatusCancelled, SessionStatusTimeout},
	SessionStatusActive:  {SessionStatusCompleted, SessionStatusTimeout},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state
func (s SessionStatus) Terminal() bool {
	return len(sessionTransitions[s]) == 0
}

// SessionRequest represents one real-time call attempt. The room name
// is globally unique and is the only identifier the transport provider
// understands; it is generated before either participant asks for
// credentials.
type SessionRequest struct {
	SessionID     string        `json:"sessionId" dynamodbav:"SessionID"`
	CaseID        string        `json:"caseId" dynamodbav:"CaseID"`
	UserID        string        `json:"userId" dynamodbav:"UserID"`
	AgentID       string        `json:"agentId,omitempty" dynamodbav:"AgentID"`
	RoomName      string        `json:"roomName" dynamodbav:"RoomName"`
	Status        SessionStatus `json:"status" dynamodbav:"Status"`
	Priority      string        `json:"priority" dynamodbav:"Priority"` // severity word: critical/high/medium/low
	EmergencyType string        `json:"emergencyType,omitempty" dynamodbav:"EmergencyType"`
	Description   string        `json:"description,omitempty" dynamodbav:"Description"`
	CreatedAt     time.Time     `json:"createdAt" dynamodbav:"CreatedAt"`
	UpdatedAt     time.Time     `json:"updatedAt" dynamodbav:"UpdatedAt"`
	ConnectedAt   *time.Time    `json:"connectedAt,omitempty" dynamodbav:"ConnectedAt"`
	EndedAt       *time.Time    `json:"endedAt,omitempty" dynamodbav:"EndedAt"`
	CallDuration  float64       `json:"callDuration" dynamodbav:"CallDuration"` // seconds
}

// SessionCredential is what a participant needs to join the call:
// an opaque provider token plus the provider's connection endpoint.
type SessionCredential struct {
	Token         string `json:"token"`
	ConnectionURL string `json:"connectionUrl"`
}

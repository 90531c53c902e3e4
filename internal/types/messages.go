package types

import "time"

// Participant roles carried in register messages
const (
	RoleAgent = "agent"
	RoleUser  = "user"
)

// ParticipantRegister is sent when an agent or user first connects
type ParticipantRegister struct {
	Type        string `json:"type"` // "register"
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"` // "agent" or "user"
	Online      bool   `json:"online"`
}

// Heartbeat is sent from a connected participant periodically
type Heartbeat struct {
	Type      string    `json:"type"` // "heartbeat"
	Identity  string    `json:"identity"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceChange is sent from an agent on availability transitions
type PresenceChange struct {
	Type      string    `json:"type"` // "presence_change"
	Identity  string    `json:"identity"`
	Online    bool      `json:"online"`
	Busy      bool      `json:"busy"`
	Timestamp time.Time `json:"timestamp"`
}

// CallComplete is sent from an agent when a live call is finished
type CallComplete struct {
	Type      string    `json:"type"` // "call_complete"
	Identity  string    `json:"identity"`
	RoomName  string    `json:"roomName"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerAck is sent from backend to a participant as acknowledgment
type ServerAck struct {
	Type     string `json:"type"` // "ack"
	Identity string `json:"identity"`
}

// CaseAssign is sent from backend to an agent when the router selects
// them for a fresh case
type CaseAssign struct {
	Type      string    `json:"type"` // "case_assign"
	AgentID   string    `json:"agentId"`
	CaseID    string    `json:"caseId"`
	RoomName  string    `json:"roomName"`
	Urgency   int       `json:"urgency"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionUpdate is sent from backend to both participants on session
// lifecycle changes
type SessionUpdate struct {
	Type      string        `json:"type"` // "session_update"
	RoomName  string        `json:"roomName"`
	CaseID    string        `json:"caseId"`
	Status    SessionStatus `json:"status"`
	AgentID   string        `json:"agentId,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ForceEndCall is sent from backend to an agent to end an active call
type ForceEndCall struct {
	Type     string `json:"type"` // "force_end_call"
	RoomName string `json:"roomName"`
	AgentID  string `json:"agentId"`
}

// ForceDisconnect is sent from backend to a participant to force logout
type ForceDisconnect struct {
	Type     string `json:"type"` // "force_disconnect"
	Identity string `json:"identity"`
}

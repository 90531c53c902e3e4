package types

import "time"

// AgentConnectionStatus represents the WebSocket connection status of an agent
type AgentConnectionStatus string

const (
	StatusConnected    AgentConnectionStatus = "connected"
	StatusDisconnected AgentConnectionStatus = "disconnected"
	StatusStale        AgentConnectionStatus = "stale" // no heartbeat within the stale window
)

// AgentPresence is an agent's durable presence row.
// Each agent writes only its own row; the router and feed only read.
// Invariant: IsBusy implies IsOnline.
type AgentPresence struct {
	AgentID     string    `json:"agentId" dynamodbav:"AgentID"`
	DisplayName string    `json:"displayName" dynamodbav:"DisplayName"`
	IsOnline    bool      `json:"isOnline" dynamodbav:"IsOnline"`
	IsBusy      bool      `json:"isBusy" dynamodbav:"IsBusy"`
	StateStart  time.Time `json:"stateStart" dynamodbav:"StateStart"` // when the current availability state began
	LastSeen    time.Time `json:"lastSeen" dynamodbav:"LastSeen"`     // last heartbeat
	UpdatedAt   time.Time `json:"updatedAt" dynamodbav:"UpdatedAt"`
}

// Available reports whether the agent can take a new case
func (a AgentPresence) Available() bool {
	return a.IsOnline && !a.IsBusy
}

// AgentInfo is the roster view of an agent: the durable presence row
// plus the live connection status from the in-memory tracker.
type AgentInfo struct {
	AgentPresence
	ConnectionStatus AgentConnectionStatus `json:"connectionStatus"`
}

// AlertSeverity represents the severity of a case alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// CaseAlert represents an alert condition on a case
type CaseAlert struct {
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// FeedEntry is one row of the case feed as agents see it:
// the case plus any age alerts computed at read time.
type FeedEntry struct {
	Case
	Alerts []CaseAlert `json:"alerts,omitempty"`
}

// FeedSnapshot is the payload broadcast to dashboards every tick
type FeedSnapshot struct {
	Type         string      `json:"type"` // always "feed_update"
	Timestamp    time.Time   `json:"timestamp"`
	Waiting      []FeedEntry `json:"waiting"`
	AgentsOnline int         `json:"agentsOnline"`
	AgentsBusy   int         `json:"agentsBusy"`
}

package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Escalation metrics
	MessagesEvaluatedTotal int64
	EscalationsTotal       int64
	BelowThresholdTotal    int64
	escalationsByType      map[string]int64

	// Case metrics
	ClaimsTotal         int64
	ClaimConflictsTotal int64
	CasesClosedTotal    int64

	// Session metrics
	SessionsIssuedTotal    int64
	SessionsActivatedTotal int64
	SessionsCompletedTotal int64
	SessionsCancelledTotal int64
	SessionsTimedOutTotal  int64
	CredentialRetriesTotal int64

	// Provider event metrics
	EventsReceivedTotal   int64
	EventsProcessedTotal  int64
	EventProcessingErrors int64

	// Participant event metrics
	ParticipantRegistersTotal int64
	HeartbeatsTotal           int64
	PresenceChangesTotal      int64
	CallCompletesTotal        int64

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	WebSocketErrorsTotal         int64
	activeConnections            int64

	// Feed broadcast metrics
	FeedBroadcastsTotal   int64
	lastBroadcastDuration time.Duration

	// Roster gauges
	agentsOnline int
	agentsBusy   int
	agentsTotal  int

	// HTTP metrics
	httpRequestsTotal    map[string]map[int]int64 // endpoint -> status -> count
	httpRequestDurations map[string][]float64     // endpoint -> durations

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			escalationsByType:    make(map[string]int64),
			httpRequestsTotal:    make(map[string]map[int]int64),
			httpRequestDurations: make(map[string][]float64),
			startTime:            time.Now(),
		}
	})
	return instance
}

// RecordMessageEvaluated increments the evaluated-message counter
func (m *Metrics) RecordMessageEvaluated() {
	m.mu.Lock()
	m.MessagesEvaluatedTotal++
	m.mu.Unlock()
}

// RecordEscalation counts one opened case by emergency type
func (m *Metrics) RecordEscalation(emergencyType string) {
	m.mu.Lock()
	m.EscalationsTotal++
	m.escalationsByType[emergencyType]++
	m.mu.Unlock()
}

// RecordBelowThreshold counts a detected emergency that stayed with
// the assistant
func (m *Metrics) RecordBelowThreshold() {
	m.mu.Lock()
	m.BelowThresholdTotal++
	m.mu.Unlock()
}

// RecordClaim increments the successful claim counter
func (m *Metrics) RecordClaim() {
	m.mu.Lock()
	m.ClaimsTotal++
	m.mu.Unlock()
}

// RecordClaimConflict counts a claim that lost the race
func (m *Metrics) RecordClaimConflict() {
	m.mu.Lock()
	m.ClaimConflictsTotal++
	m.mu.Unlock()
}

// RecordCaseClosed increments the closed case counter
func (m *Metrics) RecordCaseClosed() {
	m.mu.Lock()
	m.CasesClosedTotal++
	m.mu.Unlock()
}

// RecordSessionIssued counts one issued session credential
func (m *Metrics) RecordSessionIssued() {
	m.mu.Lock()
	m.SessionsIssuedTotal++
	m.mu.Unlock()
}

// RecordSessionActivated counts a pending session going active
func (m *Metrics) RecordSessionActivated() {
	m.mu.Lock()
	m.SessionsActivatedTotal++
	m.mu.Unlock()
}

// RecordSessionCompleted counts an active session ending normally
func (m *Metrics) RecordSessionCompleted() {
	m.mu.Lock()
	m.SessionsCompletedTotal++
	m.mu.Unlock()
}

// RecordSessionCancelled counts a pending session cancelled before
// anyone connected
func (m *Metrics) RecordSessionCancelled() {
	m.mu.Lock()
	m.SessionsCancelledTotal++
	m.mu.Unlock()
}

// RecordSessionTimeout counts a session expired by the sweeper
func (m *Metrics) RecordSessionTimeout() {
	m.mu.Lock()
	m.SessionsTimedOutTotal++
	m.mu.Unlock()
}

// RecordCredentialRetry counts a retried credential mint
func (m *Metrics) RecordCredentialRetry() {
	m.mu.Lock()
	m.CredentialRetriesTotal++
	m.mu.Unlock()
}

// RecordEventReceived increments the provider events received counter
func (m *Metrics) RecordEventReceived() {
	m.mu.Lock()
	m.EventsReceivedTotal++
	m.mu.Unlock()
}

// RecordEventProcessed increments the provider events processed counter
func (m *Metrics) RecordEventProcessed() {
	m.mu.Lock()
	m.EventsProcessedTotal++
	m.mu.Unlock()
}

// RecordEventError increments the provider event error counter
func (m *Metrics) RecordEventError() {
	m.mu.Lock()
	m.EventProcessingErrors++
	m.mu.Unlock()
}

// RecordParticipantRegister increments the register event counter
func (m *Metrics) RecordParticipantRegister() {
	m.mu.Lock()
	m.ParticipantRegistersTotal++
	m.mu.Unlock()
}

// RecordHeartbeat increments the heartbeat event counter
func (m *Metrics) RecordHeartbeat() {
	m.mu.Lock()
	m.HeartbeatsTotal++
	m.mu.Unlock()
}

// RecordPresenceChange increments the presence change event counter
func (m *Metrics) RecordPresenceChange() {
	m.mu.Lock()
	m.PresenceChangesTotal++
	m.mu.Unlock()
}

// RecordCallComplete increments the call complete event counter
func (m *Metrics) RecordCallComplete() {
	m.mu.Lock()
	m.CallCompletesTotal++
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.mu.Lock()
	m.WebSocketErrorsTotal++
	m.mu.Unlock()
}

// RecordFeedBroadcast records one feed snapshot push
func (m *Metrics) RecordFeedBroadcast(duration time.Duration) {
	m.mu.Lock()
	m.FeedBroadcastsTotal++
	m.lastBroadcastDuration = duration
	m.mu.Unlock()
}

// UpdateAgentStats updates the roster gauges
func (m *Metrics) UpdateAgentStats(total, online, busy int) {
	m.mu.Lock()
	m.agentsTotal = total
	m.agentsOnline = online
	m.agentsBusy = busy
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++

	// Keep last 100 durations for percentile calculation
	if len(m.httpRequestDurations[endpoint]) >= 100 {
		m.httpRequestDurations[endpoint] = m.httpRequestDurations[endpoint][1:]
	}
	m.httpRequestDurations[endpoint] = append(m.httpRequestDurations[endpoint], duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("lifeline_uptime_seconds", time.Since(m.startTime).Seconds())

		// Escalation metrics
		write("lifeline_messages_evaluated_total", m.MessagesEvaluatedTotal)
		write("lifeline_escalations_total", m.EscalationsTotal)
		write("lifeline_below_threshold_total", m.BelowThresholdTotal)
		for emergencyType, count := range m.escalationsByType {
			write("lifeline_escalations_by_type", count, "emergency_type", emergencyType)
		}

		// Case metrics
		write("lifeline_case_claims_total", m.ClaimsTotal)
		write("lifeline_case_claim_conflicts_total", m.ClaimConflictsTotal)
		write("lifeline_cases_closed_total", m.CasesClosedTotal)

		// Session metrics
		write("lifeline_sessions_issued_total", m.SessionsIssuedTotal)
		write("lifeline_sessions_activated_total", m.SessionsActivatedTotal)
		write("lifeline_sessions_completed_total", m.SessionsCompletedTotal)
		write("lifeline_sessions_cancelled_total", m.SessionsCancelledTotal)
		write("lifeline_sessions_timed_out_total", m.SessionsTimedOutTotal)
		write("lifeline_credential_retries_total", m.CredentialRetriesTotal)

		// Provider event metrics
		write("lifeline_events_received_total", m.EventsReceivedTotal)
		write("lifeline_events_processed_total", m.EventsProcessedTotal)
		write("lifeline_event_processing_errors_total", m.EventProcessingErrors)

		// Participant event metrics
		write("lifeline_participant_registers_total", m.ParticipantRegistersTotal)
		write("lifeline_heartbeats_total", m.HeartbeatsTotal)
		write("lifeline_presence_changes_total", m.PresenceChangesTotal)
		write("lifeline_call_completes_total", m.CallCompletesTotal)

		// WebSocket metrics
		write("lifeline_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("lifeline_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("lifeline_websocket_active_connections", m.activeConnections)
		write("lifeline_websocket_messages_total", m.WebSocketMessagesTotal)
		write("lifeline_websocket_errors_total", m.WebSocketErrorsTotal)

		// Feed broadcast metrics
		write("lifeline_feed_broadcasts_total", m.FeedBroadcastsTotal)
		write("lifeline_feed_broadcast_duration_seconds", m.lastBroadcastDuration.Seconds())

		// Roster gauges
		write("lifeline_agents_total", m.agentsTotal)
		write("lifeline_agents_online", m.agentsOnline)
		write("lifeline_agents_busy", m.agentsBusy)

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("lifeline_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}

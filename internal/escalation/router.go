package escalation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultThreshold is the minimum urgency that escalates to a human
	DefaultThreshold = 7

	// DefaultStampWindow is how far back conversation messages are
	// stamped as belonging to an escalation
	DefaultStampWindow = 15 * time.Minute

	descriptionLimit = 500
)

// EmergencyTypeHumanRequest marks escalations the user asked for
// explicitly, with no detector hit and no qualifying score
const EmergencyTypeHumanRequest = "human_request"

// RouterStore is the storage surface the router writes through
type RouterStore interface {
	SaveMessage(m types.Message) error
	SaveCase(c types.Case) error
	SaveSession(s types.SessionRequest) error
	StampEscalated(userID, roomName string, since time.Time) (int, error)
}

// AgentSender sends messages to connected agents via WebSocket
type AgentSender interface {
	SendToAgent(agentID string, message []byte) bool
}

// AgentRoster exposes the live availability view used for routing
type AgentRoster interface {
	Available() []types.AgentPresence
}

// TurnInput is one user turn as the AI backend scored it. Urgency is
// the backend's 0-10 score (0 when unscored); the keyword detector can
// raise the effective score but never lower it. WantsHuman escalates
// regardless of score.
type TurnInput struct {
	UserID     string
	Body       string
	Urgency    int
	Reason     string
	WantsHuman bool
}

// Result describes the outcome of evaluating one user turn
type Result struct {
	Detection Detection
	Urgency   int // effective score the decision was made on
	Escalated bool
	Case      *types.Case
	Session   *types.SessionRequest
	AgentID   string // notified agent, empty when nobody was available
	Marker    string // hand-off marker for the assistant reply
	Stamped   int    // messages stamped onto the escalation
}

// Router turns detected emergencies into waiting cases with a pending
// session, stamps the triggering conversation, and offers the case to
// the longest-idle agent
type Router struct {
	store       RouterStore
	roster      AgentRoster
	sender      AgentSender
	strategy    RoutingStrategy
	threshold   int
	stampWindow time.Duration
	logger      zerolog.Logger
}

// NewRouter creates an escalation router. threshold <= 0 and
// stampWindow <= 0 fall back to defaults.
func NewRouter(store RouterStore, roster AgentRoster, sender AgentSender, threshold int, stampWindow time.Duration, logger zerolog.Logger) *Router {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if stampWindow <= 0 {
		stampWindow = DefaultStampWindow
	}
	return &Router{
		store:       store,
		roster:      roster,
		sender:      sender,
		strategy:    &LongestIdleFirst{},
		threshold:   threshold,
		stampWindow: stampWindow,
		logger:      logger.With().Str("component", "escalation_router").Logger(),
	}
}

// Evaluate records one user turn and escalates when the effective
// urgency meets the threshold or the user asked for a human. A
// persistence failure on the case or session write aborts the
// escalation; having no agent online does not, the case then waits in
// the feed.
func (r *Router) Evaluate(in TurnInput) (*Result, error) {
	metrics.Get().RecordMessageEvaluated()

	detection := Detect(in.Body)
	urgency := in.Urgency
	if detection.Urgency > urgency {
		urgency = detection.Urgency
	}
	result := &Result{Detection: detection, Urgency: urgency}

	now := time.Now()

	// The turn goes into the conversation record either way. A failed
	// history write must not block a live emergency.
	if err := r.store.SaveMessage(types.Message{
		MessageID:     uuid.New().String(),
		UserID:        in.UserID,
		Body:          in.Body,
		Origin:        types.OriginUser,
		PriorityScore: &urgency,
		CreatedAt:     now,
	}); err != nil {
		r.logger.Warn().Err(err).Str("user_id", in.UserID).Msg("failed to persist user message")
	}

	if urgency < r.threshold && !in.WantsHuman {
		if detection.IsEmergency {
			metrics.Get().RecordBelowThreshold()
			r.logger.Info().
				Str("user_id", in.UserID).
				Str("emergency_type", detection.EmergencyType).
				Int("urgency", urgency).
				Msg("emergency below threshold, not escalating")
		}
		return result, nil
	}

	emergencyType := detection.EmergencyType
	severity := detection.Severity
	if !detection.IsEmergency {
		if urgency >= r.threshold {
			emergencyType = EmergencyTypeGeneral
		} else {
			emergencyType = EmergencyTypeHumanRequest
		}
		severity = SeverityForUrgency(urgency)
	}
	reason := in.Reason
	if reason == "" {
		switch {
		case detection.IsEmergency:
			reason = detection.MatchedKeyword
		case in.WantsHuman:
			reason = "user asked for a human"
		default:
			reason = fmt.Sprintf("urgency score %d", urgency)
		}
	}

	roomName := fmt.Sprintf("emergency-%s-%s-%d", emergencyType, in.UserID, now.UnixMilli())

	c := types.Case{
		CaseID:        uuid.New().String(),
		UserID:        in.UserID,
		Status:        types.CaseStatusWaiting,
		Urgency:       urgency,
		Reason:        reason,
		EmergencyType: emergencyType,
		RoomName:      roomName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.SaveCase(c); err != nil {
		return nil, fmt.Errorf("failed to persist case: %w", err)
	}

	sr := types.SessionRequest{
		SessionID:     uuid.New().String(),
		CaseID:        c.CaseID,
		UserID:        in.UserID,
		RoomName:      roomName,
		Status:        types.SessionStatusPending,
		Priority:      string(severity),
		EmergencyType: emergencyType,
		Description:   truncate(in.Body, descriptionLimit),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.SaveSession(sr); err != nil {
		return nil, fmt.Errorf("failed to persist session request: %w", err)
	}

	// Stamping is bookkeeping; a failure doesn't undo the escalation
	stamped, err := r.store.StampEscalated(in.UserID, roomName, now.Add(-r.stampWindow))
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", in.UserID).Msg("failed to stamp escalated messages")
	}

	result.Escalated = true
	result.Case = &c
	result.Session = &sr
	result.Stamped = stamped

	if agent := r.strategy.SelectAgent(r.roster.Available()); agent != nil {
		result.AgentID = agent.AgentID
		r.offer(agent.AgentID, c)
	} else {
		r.logger.Info().
			Str("case_id", c.CaseID).
			Msg("no agent available, case waits in feed")
	}
	result.Marker = BuildMarker(result.AgentID, roomName)

	metrics.Get().RecordEscalation(emergencyType)
	r.logger.Info().
		Str("case_id", c.CaseID).
		Str("user_id", in.UserID).
		Str("emergency_type", emergencyType).
		Int("urgency", urgency).
		Str("room_name", roomName).
		Int("stamped", stamped).
		Msg("case escalated")

	return result, nil
}

// offer pushes a case_assign to the chosen agent. Delivery is best
// effort: the case stays claimable from the feed either way.
func (r *Router) offer(agentID string, c types.Case) {
	msg := types.CaseAssign{
		Type:      "case_assign",
		AgentID:   agentID,
		CaseID:    c.CaseID,
		RoomName:  c.RoomName,
		Urgency:   c.Urgency,
		Reason:    c.Reason,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error().Err(err).
			Str("case_id", c.CaseID).
			Str("agent_id", agentID).
			Msg("failed to marshal case_assign message")
		return
	}

	if !r.sender.SendToAgent(agentID, data) {
		r.logger.Warn().
			Str("case_id", c.CaseID).
			Str("agent_id", agentID).
			Msg("failed to send case_assign to agent")
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

package ingestion

import (
	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

// SessionEnder settles the live session tied to a finished call
type SessionEnder interface {
	EndByRoom(roomName, reason string) (*types.SessionRequest, error)
}

// DefaultProcessor implements EventProcessor by delegating to the
// presence tracker and the session negotiator
type DefaultProcessor struct {
	tracker  *presence.Tracker
	sessions SessionEnder
	logger   zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(tracker *presence.Tracker, logger zerolog.Logger) *DefaultProcessor {
	return &DefaultProcessor{
		tracker: tracker,
		logger:  logger,
	}
}

// SetSessionEnder sets the session ender (to avoid circular init)
func (p *DefaultProcessor) SetSessionEnder(se SessionEnder) {
	p.sessions = se
}

func (p *DefaultProcessor) ProcessRegister(reg *types.ParticipantRegister) {
	metrics.Get().RecordParticipantRegister()

	// Only agents carry a presence row; user registrations are
	// connection-level bookkeeping handled by the hub.
	if reg.Role != types.RoleAgent {
		p.logger.Debug().
			Str("identity", reg.Identity).
			Str("role", reg.Role).
			Msg("non-agent participant registered")
		return
	}

	if reg.Online {
		p.tracker.SetOnline(reg.Identity, reg.DisplayName)
	} else {
		p.tracker.SetOffline(reg.Identity)
	}

	p.logger.Debug().
		Str("agent_id", reg.Identity).
		Bool("online", reg.Online).
		Msg("agent registered via processor")
}

func (p *DefaultProcessor) ProcessHeartbeat(hb *types.Heartbeat) {
	p.tracker.Heartbeat(hb.Identity)
	metrics.Get().RecordHeartbeat()
}

func (p *DefaultProcessor) ProcessPresenceChange(pc *types.PresenceChange) {
	metrics.Get().RecordPresenceChange()

	switch {
	case !pc.Online:
		p.tracker.SetOffline(pc.Identity)
	case pc.Busy:
		p.tracker.SetBusy(pc.Identity, true)
	default:
		p.tracker.SetOnline(pc.Identity, "")
	}

	p.logger.Debug().
		Str("agent_id", pc.Identity).
		Bool("online", pc.Online).
		Bool("busy", pc.Busy).
		Msg("agent presence change via processor")
}

func (p *DefaultProcessor) ProcessCallComplete(cc *types.CallComplete) {
	metrics.Get().RecordCallComplete()

	if p.sessions != nil && cc.RoomName != "" {
		if _, err := p.sessions.EndByRoom(cc.RoomName, "call_complete"); err != nil {
			p.logger.Warn().Err(err).
				Str("room_name", cc.RoomName).
				Msg("could not settle session for completed call")
		}
	}

	p.logger.Debug().
		Str("agent_id", cc.Identity).
		Str("room_name", cc.RoomName).
		Msg("call complete via processor")
}

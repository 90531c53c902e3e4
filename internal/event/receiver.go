package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

// SessionLifecycle is the subset of the session negotiator the
// receiver drives from provider events
type SessionLifecycle interface {
	GetByRoom(roomName string) (*types.SessionRequest, error)
	Activate(roomName string) (*types.SessionRequest, error)
	EndByRoom(roomName, reason string) (*types.SessionRequest, error)
}

// ProviderEvent is the media provider's webhook payload. Only the
// fields the backend acts on are decoded.
type ProviderEvent struct {
	Event       string          `json:"event"`
	Room        RoomInfo        `json:"room"`
	Participant ParticipantInfo `json:"participant"`
	CreatedAt   int64           `json:"createdAt"`
}

// RoomInfo identifies the room an event happened in
type RoomInfo struct {
	Name string `json:"name"`
}

// ParticipantInfo identifies the participant an event is about
type ParticipantInfo struct {
	Identity string `json:"identity"`
}

// Receiver handles incoming webhook events from the media provider.
// Session state only moves on provider confirmation: a pending session
// goes active when the claimed agent actually joins the room, and a
// room finishing settles whatever session it carried.
type Receiver struct {
	sessions       SessionLifecycle
	logger         zerolog.Logger
	eventsReceived int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new event receiver
func NewReceiver(sessions SessionLifecycle, logger zerolog.Logger) *Receiver {
	return &Receiver{
		sessions: sessions,
		logger:   logger,
	}
}

// HandleEvent receives individual provider events
func (r *Receiver) HandleEvent(w http.ResponseWriter, req *http.Request) {
	m := metrics.Get()

	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event ProviderEvent
	if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode provider event")
		m.RecordEventError()
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	// Record metric
	m.RecordEventReceived()

	r.process(event)

	// Update stats
	atomic.AddInt64(&r.eventsReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	// Log periodically
	count := atomic.LoadInt64(&r.eventsReceived)
	if count%1000 == 0 {
		r.logger.Info().
			Int64("total_received", count).
			Msg("provider events received")
	}

	// Always acknowledge: the provider redelivers on non-2xx, and
	// replayed lifecycle events are no-ops anyway.
	w.WriteHeader(http.StatusOK)
}

// process applies one provider event to the session it belongs to
func (r *Receiver) process(event ProviderEvent) {
	m := metrics.Get()

	if event.Room.Name == "" {
		r.logger.Debug().Str("event", event.Event).Msg("provider event without room")
		return
	}

	switch event.Event {
	case "participant_joined":
		sr, err := r.sessions.GetByRoom(event.Room.Name)
		if err != nil {
			r.ignorable(err, event)
			return
		}

		// Only the claimed agent joining activates the session; the
		// user waiting alone in the room keeps it pending.
		if sr.AgentID == "" || event.Participant.Identity != sr.AgentID {
			r.logger.Debug().
				Str("room_name", event.Room.Name).
				Str("identity", event.Participant.Identity).
				Msg("participant joined, session unchanged")
			return
		}

		if _, err := r.sessions.Activate(event.Room.Name); err != nil {
			r.logger.Warn().Err(err).
				Str("room_name", event.Room.Name).
				Msg("could not activate session")
			m.RecordEventError()
			return
		}
		m.RecordEventProcessed()

	case "participant_left":
		sr, err := r.sessions.GetByRoom(event.Room.Name)
		if err != nil {
			r.ignorable(err, event)
			return
		}

		// Either side hanging up ends an active call. A pending
		// session is left alone: the user may be reconnecting, and
		// abandonment is the sweeper's call to make.
		if sr.Status != types.SessionStatusActive {
			return
		}

		if _, err := r.sessions.EndByRoom(event.Room.Name, "participant_left"); err != nil {
			r.logger.Warn().Err(err).
				Str("room_name", event.Room.Name).
				Msg("could not settle session after participant left")
			m.RecordEventError()
			return
		}
		m.RecordEventProcessed()

	case "room_finished":
		if _, err := r.sessions.EndByRoom(event.Room.Name, "room_finished"); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				r.ignorable(err, event)
				return
			}
			r.logger.Warn().Err(err).
				Str("room_name", event.Room.Name).
				Msg("could not settle session for finished room")
			m.RecordEventError()
			return
		}
		m.RecordEventProcessed()

	default:
		r.logger.Debug().Str("event", event.Event).Msg("unhandled provider event")
	}
}

// ignorable logs events for rooms the backend is not tracking. The
// provider hosts rooms beyond ours, so this is routine.
func (r *Receiver) ignorable(err error, event ProviderEvent) {
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Debug().
			Str("event", event.Event).
			Str("room_name", event.Room.Name).
			Msg("provider event for unknown room")
		return
	}
	r.logger.Warn().Err(err).
		Str("event", event.Event).
		Str("room_name", event.Room.Name).
		Msg("could not load session for provider event")
	metrics.Get().RecordEventError()
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"last_received":   lastReceived,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

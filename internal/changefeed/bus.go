package changefeed

import (
	"sync"

	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

// Op is the kind of row change
type Op string

const (
	OpInsert Op = "INSERT"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// Event is one typed row change. Exactly one of Case, Session, Agent
// is set, matching Table.
type Event struct {
	Table   string
	Op      Op
	Case    *types.Case
	Session *types.SessionRequest
	Agent   *types.AgentPresence
}

// Bus fans row-change events out to in-process subscribers. Events for
// one record arrive in commit order; there is no ordering guarantee
// across records, so subscribers re-fetch rather than assume atomicity.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	logger zerolog.Logger
}

// NewBus creates a new change event bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "changefeed").Logger(),
	}
}

// Subscribe returns a channel receiving all future events. A slow
// subscriber loses events rather than blocking publishers.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to every subscriber without blocking
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().
				Str("table", ev.Table).
				Str("op", string(ev.Op)).
				Msg("subscriber buffer full, dropping change event")
		}
	}
}

// SubscriberCount returns the number of subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

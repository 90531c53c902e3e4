package aggregator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/changefeed"
	"github.com/finbuddy/lifeline/backend/internal/feed"
	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/finbuddy/lifeline/backend/internal/websocket"
	"github.com/rs/zerolog"
)

const snapshotInterval = 1 * time.Second

// Aggregator assembles feed snapshots for dashboards and relays
// session changes to connected participants. Dashboards get the whole
// waiting feed every tick; session updates are pushed the moment the
// change feed reports them.
type Aggregator struct {
	feed    *feed.Service
	tracker *presence.Tracker
	hub     *websocket.Hub
	agents  *websocket.AgentHub
	bus     *changefeed.Bus
	logger  zerolog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(feedSvc *feed.Service, tracker *presence.Tracker, hub *websocket.Hub, agents *websocket.AgentHub, bus *changefeed.Bus, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		feed:    feedSvc,
		tracker: tracker,
		hub:     hub,
		agents:  agents,
		bus:     bus,
		logger:  logger,
	}
}

// Start begins snapshot broadcasting and change relaying
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	m := metrics.Get()
	a.logger.Info().Msg("aggregator started")

	go a.relay(ctx, a.bus.Subscribe(256))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("aggregator stopped")
			return

		case <-ticker.C:
			cycleStart := time.Now()

			online, busy := a.tracker.Counts()
			m.UpdateAgentStats(len(a.tracker.List()), online, busy)

			// No dashboards, no reason to hit the store
			if a.hub.ClientCount() == 0 {
				continue
			}

			waiting, err := a.feed.List()
			if err != nil {
				a.logger.Error().Err(err).Msg("failed to build feed snapshot")
				continue
			}

			snapshot := types.FeedSnapshot{
				Type:         "feed_update",
				Timestamp:    time.Now(),
				Waiting:      waiting,
				AgentsOnline: online,
				AgentsBusy:   busy,
			}

			data, err := json.Marshal(snapshot)
			if err != nil {
				a.logger.Error().Err(err).Msg("failed to marshal feed snapshot")
				continue
			}

			a.hub.Broadcast(data)
			m.RecordFeedBroadcast(time.Since(cycleStart))

			a.logger.Debug().
				Int("waiting_cases", len(waiting)).
				Int("agents_online", online).
				Int("clients", a.hub.ClientCount()).
				Msg("feed snapshot broadcasted")
		}
	}
}

// relay forwards session changes from the change feed to clients
func (a *Aggregator) relay(ctx context.Context, events <-chan changefeed.Event) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Session == nil {
				continue
			}
			a.pushSessionUpdate(ev.Session)
		}
	}
}

// pushSessionUpdate notifies watchers and both participants of a
// session lifecycle change
func (a *Aggregator) pushSessionUpdate(sr *types.SessionRequest) {
	update := types.SessionUpdate{
		Type:      "session_update",
		RoomName:  sr.RoomName,
		CaseID:    sr.CaseID,
		Status:    sr.Status,
		AgentID:   sr.AgentID,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(update)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal session update")
		return
	}

	a.hub.Broadcast(data)

	// Both ends of the hand-off ride the identity hub; the user learns
	// who claimed their case the same way the agent learns of the end
	if sr.AgentID != "" {
		a.agents.SendToAgent(sr.AgentID, data)
	}
	if sr.UserID != "" {
		a.agents.SendToAgent(sr.UserID, data)
	}

	a.logger.Debug().
		Str("room_name", sr.RoomName).
		Str("status", string(sr.Status)).
		Msg("session update relayed")
}

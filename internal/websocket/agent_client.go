package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the agent
	agentWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the agent
	agentPongWait = 30 * time.Second

	// Send pings to agent with this period (must be less than pongWait)
	agentPingPeriod = 20 * time.Second

	// Maximum message size allowed from agent
	agentMaxMessageSize = 4096
)

// AgentClient represents a WebSocket connection from an agent
type AgentClient struct {
	// Participant identity, set by the register message
	identity string

	// The hub this client belongs to
	hub *AgentHub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Logger
	logger zerolog.Logger

	// done channel to signal client shutdown
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewAgentClient creates a new AgentClient
func NewAgentClient(hub *AgentHub, conn *websocket.Conn, logger zerolog.Logger) *AgentClient {
	return &AgentClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *AgentClient) readPump() {
	defer func() {
		close(c.done)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(agentMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(agentPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Str("identity", c.identity).Msg("agent websocket read error")
				metrics.Get().RecordWebSocketError()
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes incoming messages from the agent
func (c *AgentClient) handleMessage(message []byte) {
	metrics.Get().RecordWebSocketMessage()

	// Parse the envelope
	var msgType struct {
		Type     string `json:"type"`
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse message type")
		return
	}

	// Everything except register requires an established identity;
	// a socket cannot speak for participants it never registered as
	if msgType.Type != "register" {
		if c.identity == "" {
			c.logger.Debug().Str("type", msgType.Type).Msg("message before register, dropped")
			return
		}
		if msgType.Identity != "" && msgType.Identity != c.identity {
			c.logger.Warn().
				Str("type", msgType.Type).
				Str("claimed", msgType.Identity).
				Msg("message identity does not match connection, dropped")
			return
		}
	}

	switch msgType.Type {
	case "register":
		var reg types.ParticipantRegister
		if err := json.Unmarshal(message, &reg); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse register message")
			return
		}
		if reg.Identity == "" {
			c.logger.Debug().Msg("register message without identity")
			return
		}
		c.identity = reg.Identity
		c.logger = c.logger.With().Str("identity", c.identity).Logger()

		// The hub only routes to identified clients, so join it now
		c.hub.register <- c
		c.hub.participantRegister <- &reg

		// Send acknowledgment (non-blocking, safe if client is closing)
		ack := types.ServerAck{Type: "ack", Identity: c.identity}
		if data, err := json.Marshal(ack); err == nil {
			c.safeSend(data)
		}

	case "heartbeat":
		var hb types.Heartbeat
		if err := json.Unmarshal(message, &hb); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse heartbeat message")
			return
		}
		c.hub.heartbeat <- &hb

	case "presence_change":
		var pc types.PresenceChange
		if err := json.Unmarshal(message, &pc); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse presence_change message")
			return
		}
		c.hub.presenceChange <- &pc

	case "call_complete":
		var cc types.CallComplete
		if err := json.Unmarshal(message, &cc); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse call_complete message")
			return
		}
		c.hub.callComplete <- &cc

	default:
		c.logger.Debug().Str("type", msgType.Type).Msg("unknown message type")
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *AgentClient) writePump() {
	ticker := time.NewTicker(agentPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *AgentClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *AgentClient) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			recover() // absorb panic if channel was already closed
		}()
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering from panic if channel is closed
func (c *AgentClient) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

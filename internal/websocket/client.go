package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/auth"
	"github.com/finbuddy/lifeline/backend/internal/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client ID
	id string

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Configuration
	config *config.Config

	// Logger
	logger zerolog.Logger

	// User claims of the connected client, nil when auth is skipped
	claims *auth.Claims

	// Rooms this client watches for session updates. Empty means the
	// client receives every update (the dashboard case).
	watchMu sync.RWMutex
	watched map[string]bool
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger, claims *auth.Claims) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:      clientID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		config:  cfg,
		logger:  logger.With().Str("client_id", clientID).Logger(),
		claims:  claims,
		watched: make(map[string]bool),
	}
}

// readPump pumps messages from the websocket connection to the hub
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// handleMessage processes inbound watch requests from the client
func (c *Client) handleMessage(message []byte) {
	var req struct {
		Type     string `json:"type"`
		RoomName string `json:"roomName"`
	}
	if err := json.Unmarshal(message, &req); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse client message")
		return
	}

	switch req.Type {
	case "watch_room":
		if req.RoomName == "" {
			return
		}
		c.watchMu.Lock()
		c.watched[req.RoomName] = true
		c.watchMu.Unlock()
		c.logger.Debug().Str("room_name", req.RoomName).Msg("client watching room")

	case "unwatch_room":
		c.watchMu.Lock()
		delete(c.watched, req.RoomName)
		c.watchMu.Unlock()
		c.logger.Debug().Str("room_name", req.RoomName).Msg("client stopped watching room")

	default:
		c.logger.Debug().Str("type", req.Type).Msg("unknown client message type")
	}
}

// WatchesRoom reports whether this client should receive session
// updates for the given room
func (c *Client) WatchesRoom(roomName string) bool {
	c.watchMu.RLock()
	defer c.watchMu.RUnlock()

	if len(c.watched) == 0 {
		return true
	}
	return c.watched[roomName]
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

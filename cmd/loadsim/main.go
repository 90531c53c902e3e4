package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// loadsim connects a fleet of simulated agents to the backend: each one
// registers over the agent WebSocket, heartbeats, claims the cases it
// is offered, and completes the resulting calls after a while. Pointed
// at a backend running with SKIP_AUTH it exercises the whole
// escalate-claim-connect-complete loop.
func main() {
	wsURL := flag.String("ws", "ws://localhost:8080/ws/agent", "agent WebSocket endpoint")
	apiURL := flag.String("api", "http://localhost:8080", "REST API base URL")
	token := flag.String("token", "", "bearer token for REST calls (empty with SKIP_AUTH)")
	agents := flag.Int("agents", 3, "number of simulated agents")
	prefix := flag.String("prefix", "sim-agent", "agent identity prefix")
	heartbeat := flag.Duration("heartbeat", 20*time.Second, "heartbeat interval")
	callDuration := flag.Duration("call-duration", 30*time.Second, "how long a claimed call runs before completing")
	claim := flag.Bool("claim", true, "claim offered cases via the REST API")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info().
		Int("agents", *agents).
		Str("ws", *wsURL).
		Bool("claim", *claim).
		Msg("starting agent simulator")

	var wg sync.WaitGroup
	for i := 0; i < *agents; i++ {
		agent := &simAgent{
			id:           fmt.Sprintf("%s-%d", *prefix, i+1),
			displayName:  fmt.Sprintf("Sim Agent %d", i+1),
			wsURL:        *wsURL,
			apiURL:       *apiURL,
			token:        *token,
			heartbeat:    *heartbeat,
			callDuration: *callDuration,
			claim:        *claim,
			http:         &http.Client{Timeout: 10 * time.Second},
		}
		agent.logger = logger.With().Str("agent_id", agent.id).Logger()

		wg.Add(1)
		go func() {
			defer wg.Done()
			agent.run(ctx)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down simulator")
	cancel()
	wg.Wait()
}

type simAgent struct {
	id           string
	displayName  string
	wsURL        string
	apiURL       string
	token        string
	heartbeat    time.Duration
	callDuration time.Duration
	claim        bool
	http         *http.Client
	logger       zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// run keeps the agent connected until the context is cancelled,
// redialing with backoff after connection loss
func (a *simAgent) run(ctx context.Context) {
	for {
		if err := a.session(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("connection lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2*time.Second + time.Duration(rand.Intn(2000))*time.Millisecond):
		}
	}
}

// session runs one connection: register, heartbeat, react to pushes
func (a *simAgent) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer conn.Close()

	if err := a.send(types.ParticipantRegister{
		Type:        "register",
		Identity:    a.id,
		DisplayName: a.displayName,
		Role:        types.RoleAgent,
		Online:      true,
	}); err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	a.logger.Info().Msg("registered")

	go a.heartbeatLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(a.heartbeat * 3))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		a.handle(data)
	}
}

func (a *simAgent) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := a.send(types.Heartbeat{
				Type:      "heartbeat",
				Identity:  a.id,
				Timestamp: time.Now(),
			})
			if err != nil {
				return
			}
		}
	}
}

// handle reacts to one pushed message
func (a *simAgent) handle(data []byte) {
	var envelope struct {
		Type     string `json:"type"`
		CaseID   string `json:"caseId"`
		RoomName string `json:"roomName"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		a.logger.Warn().Err(err).Msg("undecodable push")
		return
	}

	switch envelope.Type {
	case "ack":
	case "case_assign":
		a.logger.Info().
			Str("case_id", envelope.CaseID).
			Str("room_name", envelope.RoomName).
			Msg("case offered")
		if a.claim {
			// Jitter so concurrent simulators actually race for cases
			time.AfterFunc(time.Duration(200+rand.Intn(1500))*time.Millisecond, func() {
				a.claimCase(envelope.CaseID, envelope.RoomName)
			})
		}
	case "session_update":
		a.logger.Debug().Str("room_name", envelope.RoomName).Msg("session update")
	case "force_end_call":
		a.logger.Info().Str("room_name", envelope.RoomName).Msg("call force-ended")
		a.completeCall(envelope.RoomName)
	case "force_disconnect":
		a.logger.Info().Msg("force disconnect received")
		a.mu.Lock()
		if a.conn != nil {
			a.conn.Close()
		}
		a.mu.Unlock()
	}
}

// claimCase races for an offered case; losing is normal when several
// simulators run against one backend
func (a *simAgent) claimCase(caseID, roomName string) {
	body, _ := json.Marshal(map[string]string{"agentId": a.id})
	req, err := http.NewRequest(http.MethodPost, a.apiURL+"/api/cases/"+caseID+"/claim", bytes.NewReader(body))
	if err != nil {
		a.logger.Error().Err(err).Msg("claim request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		a.logger.Warn().Err(err).Str("case_id", caseID).Msg("claim failed")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		a.logger.Info().Str("case_id", caseID).Msg("claim won")
		time.AfterFunc(a.callDuration, func() { a.completeCall(roomName) })
	case http.StatusConflict:
		a.logger.Info().Str("case_id", caseID).Msg("claim lost")
	default:
		a.logger.Warn().
			Str("case_id", caseID).
			Int("status", resp.StatusCode).
			Msg("unexpected claim response")
	}
}

func (a *simAgent) completeCall(roomName string) {
	err := a.send(types.CallComplete{
		Type:      "call_complete",
		Identity:  a.id,
		RoomName:  roomName,
		Timestamp: time.Now(),
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("room_name", roomName).Msg("could not report call complete")
		return
	}
	a.logger.Info().Str("room_name", roomName).Msg("call completed")
}

// send serializes writes; gorilla connections allow one writer at a time
func (a *simAgent) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

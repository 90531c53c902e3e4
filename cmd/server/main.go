package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/aggregator"
	"github.com/finbuddy/lifeline/backend/internal/api"
	"github.com/finbuddy/lifeline/backend/internal/auth"
	"github.com/finbuddy/lifeline/backend/internal/changefeed"
	"github.com/finbuddy/lifeline/backend/internal/config"
	"github.com/finbuddy/lifeline/backend/internal/escalation"
	"github.com/finbuddy/lifeline/backend/internal/event"
	"github.com/finbuddy/lifeline/backend/internal/feed"
	"github.com/finbuddy/lifeline/backend/internal/ingestion"
	"github.com/finbuddy/lifeline/backend/internal/metrics"
	"github.com/finbuddy/lifeline/backend/internal/presence"
	"github.com/finbuddy/lifeline/backend/internal/session"
	"github.com/finbuddy/lifeline/backend/internal/storage"
	"github.com/finbuddy/lifeline/backend/internal/websocket"
	"github.com/finbuddy/lifeline/backend/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Int("escalation_threshold", cfg.EscalationThreshold).
		Msg("starting lifeline backend server")

	// Create context for background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Row changes fan out on the bus; the memory store publishes
	// directly, DynamoDB changes arrive through the streams poller
	bus := changefeed.NewBus(log.Logger)

	store, err := storage.NewStore(ctx, bus, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}

	if ddb, ok := store.(*storage.DynamoDBStore); ok {
		dynamoCfg := storage.LoadDynamoConfig()
		streams, err := storage.NewStreamsClient(ctx, dynamoCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create streams client")
		}
		tables := map[string]string{
			dynamoCfg.CasesTable:    "cases",
			dynamoCfg.AgentsTable:   "agents",
			dynamoCfg.SessionsTable: "sessions",
		}
		changefeed.NewPoller(ddb.Client(), streams, tables, bus, log.Logger).Start(ctx)
	}

	// Agent availability
	tracker := presence.NewTracker(store, cfg.PresenceStaleAfter, log.Logger)
	if err := tracker.Hydrate(); err != nil {
		log.Warn().Err(err).Msg("could not hydrate presence, starting with empty roster")
	}
	go tracker.StartStaleChecker(ctx)

	// Session negotiation and lifecycle
	minter := session.NewMinter(session.CredentialConfig{
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
		URL:       cfg.LiveKitURL,
		TokenTTL:  cfg.SessionTokenTTL,
	}, log.Logger)
	negotiator := session.NewNegotiator(store, tracker, minter, log.Logger)

	sweeper := session.NewSweeper(store, tracker, cfg.PendingTimeout, cfg.SweepInterval, log.Logger)
	go sweeper.Start(ctx)

	// Agent WebSocket ingestion; the session ender is set after the
	// negotiator exists
	processor := ingestion.NewDefaultProcessor(tracker, log.Logger)
	processor.SetSessionEnder(negotiator)

	agentHub := websocket.NewAgentHub(tracker, processor, log.Logger)
	go agentHub.Run()

	hub := websocket.NewHub(log.Logger)
	go hub.Run()

	// Escalation: per-turn evaluation plus the periodic re-offer loop
	escalator := escalation.NewRouter(store, tracker, agentHub, cfg.EscalationThreshold, cfg.MessageStampWindow, log.Logger)
	dispatch := escalation.NewDispatchLoop(store, tracker, agentHub, log.Logger)
	go dispatch.Start(ctx)

	feedSvc := feed.NewService(store, tracker, negotiator, log.Logger)

	agg := aggregator.NewAggregator(feedSvc, tracker, hub, agentHub, bus, log.Logger)
	go agg.Start(ctx)

	receiver := event.NewReceiver(negotiator, log.Logger)

	// HTTP handlers
	chatHandler := api.NewChatHandler(escalator, store, log.Logger)
	caseHandler := api.NewCaseHandler(feedSvc, store, cfg.MessageStampWindow, log.Logger)
	sessionHandler := api.NewSessionHandler(negotiator, log.Logger)
	agentsHandler := api.NewAgentsHandler(tracker, log.Logger)
	historyHandler := api.NewAgentHistoryHandler(negotiator, log.Logger)
	actionsHandler := api.NewAgentActionsHandler(agentHub, negotiator, log.Logger)
	rosterHandler := api.NewRosterHandler(tracker, log.Logger)
	adminHandler := api.NewAdminHandler(store, tracker, hub, agentHub, log.Logger)
	wsHandler := websocket.NewHandler(hub, cfg, log.Logger)
	agentWSHandler := websocket.NewAgentHandler(agentHub, log.Logger)

	// Create router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Internal routes (no auth - reachable from the service network only)
	r.Route("/internal", func(r chi.Router) {
		r.Post("/provider/event", receiver.HandleEvent)
		r.Get("/provider/stats", receiver.GetStats)
		r.Post("/agents/roster", rosterHandler.HandleRoster)
		r.Route("/admin", func(r chi.Router) {
			r.Post("/inject", adminHandler.InjectCases)
			r.Post("/truncate", adminHandler.Truncate)
			r.Post("/reset", adminHandler.ResetMemory)
			r.Post("/logoff-all", adminHandler.LogoffAll)
			r.Get("/stats", adminHandler.Stats)
		})
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/api", func(r chi.Router) {
			r.Post("/chat/turn", chatHandler.Turn)

			r.Get("/cases", caseHandler.ListCases)
			r.Get("/cases/{caseId}", caseHandler.GetCase)
			r.Get("/cases/{caseId}/messages", caseHandler.GetCaseMessages)
			r.Post("/cases/{caseId}/claim", caseHandler.ClaimCase)
			r.Post("/cases/{caseId}/close", caseHandler.CloseCase)

			r.Post("/sessions/token", sessionHandler.IssueToken)
			r.Get("/sessions/{roomName}", sessionHandler.GetSession)
			r.Post("/sessions/{roomName}/cancel", sessionHandler.CancelSession)
			r.Post("/sessions/{roomName}/end", sessionHandler.EndSession)

			r.Get("/agents", agentsHandler.ListAgents)
			r.Post("/agents/{agentId}/presence", agentsHandler.SetPresence)
			r.Get("/agents/{agentId}/history", historyHandler.GetHistory)
			r.With(api.RequireAdmin).Post("/agents/{agentId}/logout", actionsHandler.Logout)
			r.With(api.RequireSupervisorOrAdmin).Post("/agents/{agentId}/sessions/{roomName}/end", actionsHandler.ForceEndSession)
		})

		r.Get("/ws", wsHandler.ServeHTTP)
		r.Get("/ws/agent", agentWSHandler.ServeHTTP)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background loops
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"lifeline-backend"}`)
}

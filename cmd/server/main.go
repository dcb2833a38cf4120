// Pitch Labs - realtime sales-training session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/pitch-labs/internal/api"
	"github.com/ashureev/pitch-labs/internal/channel"
	"github.com/ashureev/pitch-labs/internal/config"
	"github.com/ashureev/pitch-labs/internal/identity"
	"github.com/ashureev/pitch-labs/internal/metrics"
	"github.com/ashureev/pitch-labs/internal/middleware"
	"github.com/ashureev/pitch-labs/internal/publish"
	"github.com/ashureev/pitch-labs/internal/reaper"
	"github.com/ashureev/pitch-labs/internal/scenario"
	"github.com/ashureev/pitch-labs/internal/session"
	"github.com/ashureev/pitch-labs/internal/store"
	"github.com/ashureev/pitch-labs/internal/transcript"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "oracle", cfg.Oracle.Provider)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	scenarios, err := scenario.New(cfg.ScenarioDir, logger)
	if err != nil {
		slog.Error("Failed to load scenarios", "error", err)
		os.Exit(1)
	}
	slog.Info("Scenarios loaded", "count", len(scenarios.List()), "dir", cfg.ScenarioDir)

	orc, transcriber, err := newOracle(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize response oracle", "error", err)
		os.Exit(1)
	}
	defer func() { _ = orc.Close() }()

	// Sealed sessions go to SQLite and, when configured, to NATS.
	sinks := publish.Fanout{repo}
	if cfg.NATSURL != "" {
		nc, err := publish.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			slog.Warn("Failed to connect to NATS, session records will not be published", "error", err)
		} else {
			defer func() { _ = nc.Close() }()
			sinks = append(sinks, nc)
			slog.Info("Publishing session records", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
		}
	}

	transcripts, err := transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = transcripts.Close() }()

	m := metrics.New()

	mgr := session.NewManager(session.ManagerConfig{
		Oracle:        orc,
		Transcriber:   transcriber,
		Persister:     sinks,
		Observers:     []session.Observer{m, transcript.NewObserver(transcripts)},
		OracleTimeout: cfg.Oracle.Timeout,
		RedirectURL:   cfg.ReportRedirectPath,
		Policy: session.Policy{
			IdleTimeout:  cfg.Session.IdleTimeout,
			AbandonGrace: cfg.Session.AbandonGrace,
			Retention:    cfg.Session.Retention,
		},
		Logger: logger,
	})

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer limiter.Stop()
	sessionHandler := api.NewSessionHandler(mgr, scenarios, repo, limiter, logger)
	healthHandler := api.NewHealthHandler(repo, mgr)
	wsHandler := channel.NewHandler(mgr, channel.NewRegistry(), channel.Config{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		PingInterval:  30 * time.Second,
		LastSeen:      repo,
		Logger:        logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.Policy{Origins: allowedOrigins(cfg), MaxAge: 10 * time.Minute}))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	// Session credentials, not the identity cookie, guard the socket.
	r.Get("/ws/sessions/{id}", wsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		sessionHandler.RegisterRoutes(r)
	})

	// Create server.
	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	reaperDone := reaper.New(mgr, repo, reaper.Config{
		Interval:  cfg.ReaperInterval,
		Retention: cfg.HistoryRetention,
		OnSweep: func(s session.SweepStats) {
			m.SessionsReaped(s.Ended, s.Discarded, s.Evicted)
		},
		Logger: logger,
	}).Start(ctx)

	if cfg.ScenarioWatch {
		go func() {
			if err := scenarios.Watch(ctx, scenario.DefaultDebounce); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Scenario watcher stopped", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()
	<-reaperDone

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// End live sessions, then wait for each socket to flush session_ended
	// before force-closing whatever is left.
	ended := mgr.Shutdown(shutdownCtx)
	drainCtx, cancelDrain := context.WithTimeout(shutdownCtx, 5*time.Second)
	if err := wsHandler.Registry().Drain(drainCtx); err != nil {
		slog.Warn("Session sockets did not drain", "error", err)
	}
	cancelDrain()
	closed := wsHandler.Registry().CloseAll(websocket.StatusGoingAway, "server shutting down")
	slog.Info("Sessions closed", "ended", ended, "sockets", closed)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

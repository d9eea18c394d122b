// Guest Coach - adaptive coaching chat server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/guest-coach/internal/api"
	"github.com/ashureev/guest-coach/internal/chat"
	"github.com/ashureev/guest-coach/internal/coach"
	"github.com/ashureev/guest-coach/internal/config"
	"github.com/ashureev/guest-coach/internal/identity"
	"github.com/ashureev/guest-coach/internal/llm"
	"github.com/ashureev/guest-coach/internal/middleware"
	"github.com/ashureev/guest-coach/internal/probe"
	"github.com/ashureev/guest-coach/internal/ratelimit"
	"github.com/ashureev/guest-coach/internal/retention"
	"github.com/ashureev/guest-coach/internal/safety"
	"github.com/ashureev/guest-coach/internal/snapshot"
	"github.com/ashureev/guest-coach/internal/store"
	"github.com/ashureev/guest-coach/internal/telemetry"
)

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"model_enabled", cfg.ModelEnabled(),
		"v2_rollout_percent", cfg.V2RolloutPercent,
	)

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

	tuning, err := coach.LoadTuning(cfg.TuningFile)
	if err != nil {
		slog.Error("Failed to load coach tuning", "error", err, "path", cfg.TuningFile)
		os.Exit(1)
	}

	var client llm.Client = llm.Disabled{}
	if cfg.ModelEnabled() {
		client = llm.NewLazy(func() (llm.Client, error) {
			return llm.NewGemini(context.Background(), cfg.Model.APIKey, logger)
		})
	} else {
		slog.Info("Model calls disabled (GEMINI_API_KEY not set), replies use deterministic fallback")
	}

	sink := telemetry.NewAsyncSink(repo, cfg.Telemetry.QueueSize, logger)
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			slog.Warn("Telemetry sink did not drain", "error", closeErr, "stats", sink.Stats())
		}
	}()

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize services.
	engine := coach.NewEngine(coach.Config{
		Store:  repo,
		Client: client,
		Models: coach.Models{
			Fast:    cfg.Model.Fast,
			Primary: cfg.Model.Primary,
			Summary: cfg.Model.Summary,
		},
		Tuning:    tuning,
		Timeout:   cfg.Model.Timeout,
		Telemetry: sink,
		Logger:    logger,
	})
	chatService := chat.NewService(chat.Config{
		Repo:            repo,
		Engine:          engine,
		Snapshots:       snapshot.NewGenerator(client, cfg.Model.Summary, cfg.Model.Timeout, logger),
		Limiter:         limiter,
		Safety:          safety.NewFilter(),
		Telemetry:       sink,
		MaxMessageChars: cfg.Chat.MaxMessageChars,
		RolloutPercent:  cfg.V2RolloutPercent,
		Logger:          logger,
	})

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Initialize handlers.
	chatHandler := chat.NewHandler(chatService, chat.HandlerConfig{
		MaxRequestBodySize: cfg.Chat.MaxRequestBodySize,
		IsDevelopment:      cfg.IsDevelopment(),
		AllowedOrigins:     allowedOrigins,
	})

	modelStatus := "disabled"
	if cfg.ModelEnabled() {
		modelStatus = "configured"
	}
	healthHandler := api.NewHealthHandler(repo, 5*time.Second, map[string]string{"model": modelStatus})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Guest routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
	})

	// WebSocket connections outlive WriteTimeout, so none is set.
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
	retentionDone := retention.NewWorker(repo, cfg.Telemetry.Retention, time.Hour, logger).Start(ctx)

	probeDone := make(chan struct{})
	if cfg.GRPCHealthAddr != "" {
		go func() {
			defer close(probeDone)
			if err := probe.New(repo, 0, logger).ListenAndServe(ctx, cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health probe failed", "error", err)
			}
		}()
	} else {
		close(probeDone)
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

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chatHandler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-retentionDone
	<-probeDone

	slog.Info("Server stopped successfully")
}

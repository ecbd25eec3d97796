// FocusForge - drowsiness-aware focus session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/focusforge/internal/alert"
	"github.com/ashureev/focusforge/internal/api"
	"github.com/ashureev/focusforge/internal/capture"
	"github.com/ashureev/focusforge/internal/config"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/ashureev/focusforge/internal/identity"
	"github.com/ashureev/focusforge/internal/middleware"
	"github.com/ashureev/focusforge/internal/monitor"
	"github.com/ashureev/focusforge/internal/shared"
	"github.com/ashureev/focusforge/internal/stats"
	"github.com/ashureev/focusforge/internal/store"
	"github.com/ashureev/focusforge/internal/telemetry"
	"github.com/ashureev/focusforge/internal/vision"
	"github.com/ashureev/focusforge/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

type metrics interface {
	focus.Recorder
	Close(ctx context.Context) error
}

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
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	closed, err := repo.CloseOrphanedSessions(context.Background())
	if err != nil {
		slog.Error("Failed to close orphaned sessions", "error", err)
		os.Exit(1)
	}
	slog.Info("Orphaned session cleanup complete", "sessions_closed", closed)

	var rec metrics = telemetry.NewNoOp()
	if cfg.Telemetry.Enabled {
		exp, err := telemetry.NewExporter(context.Background(), telemetry.Config{
			Endpoint: cfg.Telemetry.Endpoint,
			Enabled:  cfg.Telemetry.Enabled,
			Insecure: cfg.Telemetry.Insecure,
			Interval: cfg.Telemetry.Interval,
		})
		if err != nil {
			slog.Warn("Failed to start metrics exporter, metrics disabled", "error", err)
		} else {
			rec = exp
			slog.Info("Metrics exporter started", "endpoint", cfg.Telemetry.Endpoint)
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Close(ctx); err != nil {
			slog.Error("Failed to flush metrics", "error", err)
		}
	}()

	// Desktop notification relay (optional).
	var relay *alert.Relay
	if cfg.Relay.Enabled() {
		relay, err = alert.DialRelay(alert.DefaultRelayConfig(cfg.Relay.Addr), logger)
		if err != nil {
			slog.Warn("Failed to connect to notification relay, desktop notifications disabled", "error", err)
			relay = nil
		} else {
			defer func() {
				if err := relay.Close(); err != nil {
					slog.Debug("Failed to close relay", "error", err)
				}
			}()
		}
	}

	// Initialize services.
	aggregator := stats.NewAggregator(repo, shared.RetryPolicy{
		MaxRetries: cfg.Retry.DatabaseMaxRetries,
		BaseDelay:  cfg.Retry.DatabaseRetryBaseDelay,
	}, logger)
	analyzer := vision.NewAnalyzer(vision.Thresholds{
		Brightness: cfg.Engine.BrightnessThreshold,
		Contrast:   cfg.Engine.ContrastThreshold,
	})
	manager := focus.NewManager(logger)
	engine := focus.Config{
		ClosedThreshold:      cfg.Engine.ClosedThreshold,
		CooldownRelease:      cfg.Engine.CooldownRelease,
		SleepTimePerIncident: cfg.Engine.SleepTimePerIncident,
		TickInterval:         cfg.Engine.TickInterval,
	}

	newController := func(userID string, source capture.Source, out *monitor.EventWriter) *focus.Controller {
		opts := []alert.Option{
			alert.WithAutoStop(cfg.Engine.AlertAutoStop),
			alert.WithLogger(logger.With("user_id", userID)),
		}
		if relay != nil {
			opts = append(opts, alert.WithDesktop(relay))
		}
		return focus.NewController(engine, focus.Dependencies{
			Source:   source,
			Analyzer: analyzer,
			Alerter:  alert.NewNotifier(nil, out, opts...),
			Sessions: repo,
			Stats:    aggregator,
			Events:   out,
			Recorder: rec,
			Logger:   logger.With("user_id", userID),
		})
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, aggregator, manager, cfg.Engine, logger)
	focusHandler := api.NewFocusHandler(baseHandler)
	wsHandler := monitor.NewWebSocketHandler(repo, manager, newController, monitor.Options{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		CameraTimeout: cfg.Engine.CameraTimeout,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	focusHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/focus", wsHandler.ServeHTTP)

	// Serve the embedded client.
	r.Handle("/*", web.ClientHandler())

	// WebSocket connections are long lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Finalize running sessions before the database goes away.
	if err := manager.CloseAll(shutdownCtx); err != nil {
		slog.Error("Failed to finalize sessions", "error", err)
	}

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

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

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

	"github.com/stagecast/stagecast/internal/config"
	"github.com/stagecast/stagecast/internal/media"
	"github.com/stagecast/stagecast/internal/middleware"
	"github.com/stagecast/stagecast/internal/profanity"
	"github.com/stagecast/stagecast/internal/pubsub"
	"github.com/stagecast/stagecast/internal/registry"
	"github.com/stagecast/stagecast/internal/server"
	"github.com/stagecast/stagecast/internal/signaling"
	"github.com/stagecast/stagecast/internal/store"
)

var errNoMediaWorkers = errors.New("media worker pool is empty")

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Chat persistence backend
	var chatStore store.Store
	switch cfg.StoreType {
	case "postgres":
		chatStore, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
	case "s3":
		chatStore, err = store.NewS3Store(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3Region, cfg.S3Endpoint, cfg.S3Bucket)
	default:
		chatStore, err = store.NewJSONFileStore(cfg.StorePath)
	}
	if err != nil {
		slog.Error("failed to initialize chat store", "type", cfg.StoreType, "error", err)
		os.Exit(1)
	}
	defer chatStore.Close()
	slog.Info("chat store initialized", "type", cfg.StoreType)

	// PubSub carries media engine events to the signaling layer; Redis lets
	// them reach every instance
	var ps pubsub.PubSub
	if cfg.PubSubType == "redis" {
		ps, err = pubsub.NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	} else {
		ps = pubsub.NewMemoryPubSub()
	}
	defer ps.Close()

	// Media engine with its worker pool
	if cfg.AnnouncedIP == "" {
		slog.Warn("ANNOUNCED_IP not set - media runs in local-only development mode")
	}
	runtime := media.NewPionRuntime(cfg.AnnouncedIP, logger)
	engine, err := media.NewEngine(ctx, runtime, ps, media.Options{
		MinWorkers: cfg.MinWorkers,
		MaxWorkers: cfg.MaxWorkers,
	}, logger)
	if err != nil {
		slog.Error("failed to start media engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Signaling hub ties registry, presence, chat, and media together
	reg := registry.New()
	hub := signaling.NewHub(reg, engine, chatStore, profanity.NewWordListFilter(), ps, cfg.DisconnectGracePeriod, logger)
	defer hub.Close()
	wsHandler := signaling.NewHandler(hub, logger)

	// Create and start server
	deps := &server.Dependencies{
		WSHandler:   wsHandler,
		RateLimiter: middleware.NewRateLimiter(cfg.WSConnectsPerMin),
		Ready: func(ctx context.Context) error {
			if engine.WorkerCount() == 0 {
				return errNoMediaWorkers
			}
			return nil
		},
		Logger: logger,
	}

	srv := server.New(cfg, deps)

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/signal-relay/config"
	"github.com/mossy-p/signal-relay/internal/handlers"
	"github.com/mossy-p/signal-relay/internal/metrics"
	"github.com/mossy-p/signal-relay/internal/redis"
	"github.com/mossy-p/signal-relay/internal/rooms"
	"github.com/mossy-p/signal-relay/internal/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration, optionally seeded from a .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New()
	opts := []signaling.Option{signaling.WithMetrics(m)}

	// Connect to Redis when a presence mirror is configured
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		log.Info("Redis connection established", "addr", cfg.Redis.Addr)

		presence := redis.NewPresence(client, cfg.Redis.PresenceTTL, cfg.Redis.PresenceBuffer, log, m)
		opts = append(opts, signaling.WithPresence(presence))
		g.Go(func() error { return presence.Run(ctx) })
	}

	coordinator := signaling.NewCoordinator(rooms.NewRegistry(), log, opts...)
	ws := handlers.NewSignalingHandler(coordinator, cfg, log)
	router := handlers.NewRouter(cfg, coordinator, ws, m, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g.Go(func() error {
		log.Info("Starting WebRTC signaling server", "port", cfg.Port, "path", cfg.SignalPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("Shutting down signaling server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Hijacked websockets outlive srv.Shutdown; close them so every
		// peer goes through the disconnect path.
		return ws.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", slog.Any("error", err))
		return err
	}
	return nil
}

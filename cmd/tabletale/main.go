// Tabletale session server. Serves the HTTP API, hosts the in-memory
// game systems, and pushes their events to WebSocket clients.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tabletale/tabletale/pkg/api"
	"github.com/tabletale/tabletale/pkg/auth"
	"github.com/tabletale/tabletale/pkg/cleanup"
	"github.com/tabletale/tabletale/pkg/config"
	"github.com/tabletale/tabletale/pkg/database"
	"github.com/tabletale/tabletale/pkg/game"
	"github.com/tabletale/tabletale/pkg/universe"
	"github.com/tabletale/tabletale/pkg/version"
	"github.com/tabletale/tabletale/pkg/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting tabletale", "version", version.Full(), "http_port", cfg.HTTPPort)

	ctx := context.Background()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	uni, err := universe.New(dbClient, game.StateCharacterStore{}, cfg.KickGrace)
	if err != nil {
		slog.Error("Failed to start universe", "error", err)
		os.Exit(1)
	}
	events, err := uni.Listen()
	if err != nil {
		slog.Error("Failed to subscribe to universe events", "error", err)
		os.Exit(1)
	}

	controller := ws.NewController(uni, cfg.HeartbeatTimeout, cfg.DisconnectTimeout)
	runCtx, stopRun := context.WithCancel(ctx)
	go controller.Run(runCtx, events)

	retention := cleanup.NewService(cfg.Retention, dbClient.Pool())
	retention.Start(ctx)
	defer retention.Stop()

	authMgr := auth.NewManager(cfg.JWTSecret, cfg.SessionTTL)
	httpServer := api.NewServer(cfg, uni, authMgr, controller)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting requests first, then tear the rest down in
	// dependency order: sockets, game systems, database.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	controller.Shutdown()
	stopRun()

	if err := uni.Stop(shutdownCtx); err != nil {
		slog.Error("Universe shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

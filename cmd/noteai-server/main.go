// Package main provides the noteai MCP server entry point.
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

	"github.com/bull/noteai-server/internal/app"
	"github.com/bull/noteai-server/internal/config"
	mcpserver "github.com/bull/noteai-server/internal/mcp"
)

var version = "v0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Stdio mode owns stdout for the protocol, so logs always go to stderr.
	logger := app.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Resume(ctx); err != nil {
		return err
	}
	go a.RunSweeper(ctx, cfg.Ingest.SweepInterval)

	server, err := mcpserver.NewServer(&mcpserver.Config{
		Ingest:          a.Ingest,
		Chat:            a.Chat,
		Analysis:        a.Analysis,
		AllowLocalFiles: !cfg.Server.HTTPMode,
		Version:         version,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	checks := make(map[string]mcpserver.HealthChecker)
	for name, check := range a.Checks() {
		checks[name] = mcpserver.HealthCheckFunc(check)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(checks))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))
	mux.HandleFunc("/", mcpserver.NewLandingHandler(server, version, "/mcp"))

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Server.HTTPMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		logger.Info("starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health", "mock", cfg.MockMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	// Stdio mode: run MCP server over stdin/stdout for local clients.
	// The health endpoint still listens for local testing.
	go func() {
		logger.Info("starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("health server error", "error", err)
		}
	}()

	logger.Info("starting noteai MCP server (stdio mode)", "mock", cfg.MockMode)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

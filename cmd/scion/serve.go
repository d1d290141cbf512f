package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/scionsync/scion/internal/api"
	"github.com/scionsync/scion/internal/config"
	"github.com/scionsync/scion/internal/crdt"
	"github.com/scionsync/scion/internal/realtime"
	"github.com/scionsync/scion/internal/scan"
	"github.com/scionsync/scion/internal/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long:  "Starts the HTTP sync API and real-time fan-out WebSocket server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg := config.FromEnv()

	level := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	registry := vault.NewRegistry(cfg.VaultPath, logger)
	if err := scan.New(registry, logger).Watch(ctx); err != nil {
		logger.Warn("vault root discovery disabled", "error", err)
	}

	crdtStore := crdt.NewStore(filepath.Join(cfg.VaultPath, ".scion-crdt"))
	applier := &vault.EngineApplier{Registry: registry}
	hub := realtime.NewHub(crdtStore, applier, logger)
	hub.RunWithLifecycle(ctx)

	server := api.NewServer(registry, hub, logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		logger.Info("scion listening", "addr", cfg.Addr(), "vault_path", cfg.VaultPath)
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		logger.Error("http server stopped", "error", err)
	}))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown timed out", "error", err)
	}
	return registry.Close()
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

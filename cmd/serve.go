package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/brainstorm/internal/config"
	"github.com/nextlevelbuilder/brainstorm/internal/gateway"
	"github.com/nextlevelbuilder/brainstorm/internal/storage"
	"github.com/nextlevelbuilder/brainstorm/internal/telemetry"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	// stdout carries the MCP protocol; all logging goes to stderr.
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg)
	if err != nil {
		// An unwritable data root makes every tool call fail; refuse to start.
		slog.Error("failed to open data root", "error", err)
		os.Exit(1)
	}

	shutdown, err := telemetry.Init(context.Background(), cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	slog.Info("brainstorm serving",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"data_root", store.Root(),
		"rate_limit_rpm", cfg.Gateway.RateLimitRPM,
	)

	if err := gateway.New(store, cfg, Version).ServeStdio(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

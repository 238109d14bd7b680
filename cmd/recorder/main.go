// Command recorder fills the rate history the trading daemon averages over.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"maverage/internal/app"
	"maverage/internal/infra"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if configPath == "-h" || configPath == "--help" {
		fmt.Fprintf(os.Stderr, "Usage: %s [config.yaml]\n", os.Args[0])
		return
	}

	bootstrap := app.NewBootstrap(configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := infra.WritePIDFile(cfg.InstancePath(".mid"), cfg.App.Instance); err != nil {
		slog.Warn("PID file not written", slog.Any("error", err))
	}
	bootstrap.ServeMetrics(ctx)

	slog.InfoContext(ctx, "✨ Rate recorder operational. Press Ctrl+C to exit.",
		slog.String("database", cfg.DatabasePath()),
	)
	if err := bootstrap.RateRecorder().Run(ctx); err != nil {
		slog.Error("❌ Rate recorder halted", slog.Any("error", err))
	}
	slog.Info("👋 Shutting down gracefully...")
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"copytrade_go/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	subject := flag.String("subject", "", "token or wallet address to follow (overrides the last one)")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Membership, balances, feed and periodic refreshes
	bootstrap.Start(ctx)

	if *subject != "" {
		if err := bootstrap.SelectSubject(ctx, *subject); err != nil {
			slog.Error("Failed to persist subject", slog.Any("error", err))
		}
	}

	slog.InfoContext(ctx, "Copy-trading desk running. Press Ctrl+C to exit.",
		slog.String("subject", bootstrap.Desk.Feed().Subject()))

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("Shutting down gracefully...")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"transit-pulse/internal/general/logger"

	"github.com/joho/godotenv"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.New("tracker-service")
	log.Info(ctx, "init_start", "Tracker Service initializing...", nil)

	// secrets come from .env when present; absence is fine in containers
	if err := godotenv.Load(); err != nil {
		log.Debug(ctx, "dotenv_skipped", "No .env file loaded", map[string]any{"reason": err.Error()})
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Info(ctx, "shutdown_signal", "Shutdown signal received", map[string]any{"signal": sig.String()})
		cancel()
	}()

	if err := Run(ctx, 10, 256); err != nil {
		log.Error(ctx, "service_failed", "Tracker Service terminated with error", err, nil)
		os.Exit(1)
	}
	log.Info(ctx, "shutdown_complete", "Service stopped successfully", nil)
}

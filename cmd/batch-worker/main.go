package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/resumeflow/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := services.NewWorkerServiceFromEnv(ctx)
	if err != nil {
		slog.Error("Critical error during worker initialization", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := svc.Run(ctx); err != nil {
		slog.Error("Worker pool stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker pool shut down cleanly.")
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"modelgen/internal/bootstrap"
	"modelgen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")
	if err := requireSharedLock(cfg); err != nil {
		logger.Fatal().Err(err).Msg("worker: refusing to start")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialise services")
	}
	defer svc.Close()

	worker := newResumeWorker(svc.Jobs, svc.Orchestrator, logger, resumeConfig{
		StaleAfter:   cfg.WorkerStaleAfter,
		BatchSize:    cfg.WorkerBatchSize,
		ScanInterval: cfg.WorkerScanInterval,
	})

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

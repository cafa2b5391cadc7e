package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/grant-engine/internal/app"
	"github.com/kursadbilgin/grant-engine/internal/config"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "sweeper")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("application initialization failed", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown cleanup failed", zap.Error(err))
		}
	}()

	scheduler, err := app.NewScheduler(cfg.SweepSchedule, a.Sweeper.Sweep, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}
	logger.Info("grant-engine sweeper started", zap.String("schedule", cfg.SweepSchedule))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	<-scheduler.Stop().Done()
}

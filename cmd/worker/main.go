package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/grant-engine/internal/config"
	"github.com/kursadbilgin/grant-engine/internal/notify"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	"github.com/kursadbilgin/grant-engine/internal/queue"
	"github.com/kursadbilgin/grant-engine/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL is required for the delivery worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerPrefetch, logger)
	defer consumer.Close() //nolint:errcheck

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotifyWebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
		if err != nil {
			logger.Fatal("webhook notifier init failed", zap.Error(err))
		}
		notifier = webhook
	}

	worker, err := service.NewDeliveryWorker(consumer, notifier, cfg.WorkerConcurrency, cfg.NotifyTimeout, logger)
	if err != nil {
		logger.Fatal("delivery worker init failed", zap.Error(err))
	}
	worker.SetMetrics(observability.NewMetrics())

	logger.Info("grant-engine delivery worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("prefetch", cfg.WorkerPrefetch),
	)
	if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("delivery worker stopped", zap.Error(err))
	}
	logger.Info("delivery worker shut down")
}

package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/grant-engine/internal/app"
	"github.com/kursadbilgin/grant-engine/internal/config"
	"github.com/kursadbilgin/grant-engine/internal/handler"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	"github.com/kursadbilgin/grant-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
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

	server := fiber.New(fiber.Config{
		AppName:               "grant-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	server.Use(transport.RequestID(), transport.Correlation(), a.Metrics.HTTPMiddleware())
	server.Get("/metrics", adaptor.HTTPHandler(a.Metrics.Handler()))

	var broker handler.Pinger
	if a.Broker != nil {
		broker = a.Broker
	}
	handler.RegisterHealthRoutes(server, a.SQLDB, a.Redis, broker)
	if err := handler.RegisterGrantRoutes(server, a.Grants, a.Sweeper); err != nil {
		logger.Fatal("grant routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterAdminRoutes(server, a.Admin); err != nil {
		logger.Fatal("admin routes registration failed", zap.Error(err))
	}

	if cfg.SweepInterval > 0 {
		go func() {
			_ = a.Sweeper.Start(ctx)
		}()
		logger.Info("embedded sweeper started", zap.Duration("interval", cfg.SweepInterval))
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- server.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("grant-engine api started", zap.Int("port", cfg.APIPort))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-listenErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}

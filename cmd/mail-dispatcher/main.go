package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmlopezc/bizgate-backend/internal/mailout"
	"github.com/dmlopezc/bizgate-backend/pkg/config"
	"github.com/dmlopezc/bizgate-backend/pkg/db"
	"github.com/dmlopezc/bizgate-backend/pkg/logger"
	"github.com/dmlopezc/bizgate-backend/pkg/metrics"
	"github.com/dmlopezc/bizgate-backend/pkg/redis"
	"github.com/dmlopezc/bizgate-backend/pkg/sendgrid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

const lockTTL = 5 * time.Minute

func main() {
	logg := logger.New(logger.Options{ServiceName: "mail-dispatcher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "mail-dispatcher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sender, err := sendgrid.NewClient(cfg.Sendgrid, logg)
	if err != nil {
		logg.Error(ctx, "failed to create sendgrid client", err)
		os.Exit(1)
	}

	lock, err := mailout.NewRedisLock(redisClient, redisClient.LockKey("mailout"), lockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create dispatcher lock", err)
		os.Exit(1)
	}

	dispatcher, err := mailout.NewDispatcher(mailout.DispatcherParams{
		Config:  cfg.Mailout,
		Repo:    mailout.NewRepository(dbClient.DB()),
		Sender:  sender,
		Lock:    lock,
		Logger:  logg,
		Metrics: metrics.NewAccountMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		logg.Error(ctx, "failed to create dispatcher", err)
		os.Exit(1)
	}

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "mail dispatcher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "mail dispatcher shut down")
}

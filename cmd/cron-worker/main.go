package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/apexlabs-backend/internal/cron"
	"github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/internal/pendingsync"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/db"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/metrics"
	"github.com/angelmondragon/apexlabs-backend/pkg/migrate"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
	"github.com/angelmondragon/apexlabs-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)

	queue, err := outbox.New(outbox.Options{
		Path:        cfg.Outbox.FilePath,
		LockTimeout: cfg.Outbox.LockTimeout,
		LockRetry:   cfg.Outbox.LockRetry,
		Depth:       orderMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to open outbox", err)
		os.Exit(1)
	}

	drainLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("pending-sync"), cfg.PendingSync.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create pending sync lock", err)
		os.Exit(1)
	}
	reconciler, err := pendingsync.New(pendingsync.Params{
		Queue:        queue,
		Orders:       orders.NewRepository(dbClient.DB()),
		Logger:       logg,
		Lock:         drainLock,
		Metrics:      orderMetrics,
		WriteTimeout: cfg.DB.WriteTimeout,
		DrainTimeout: cfg.PendingSync.DrainTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending sync reconciler", err)
		os.Exit(1)
	}

	pendingJob, err := cron.NewPendingSyncJob(cron.PendingSyncJobParams{
		Logger:  logg,
		Drainer: reconciler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending sync job", err)
		os.Exit(1)
	}

	// the cycle lock keeps a second worker from running the whole registry
	cycleLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), cfg.PendingSync.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(pendingJob),
		Lock:     cycleLock,
		Metrics:  cronMetrics,
		Interval: cfg.PendingSync.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.PendingSync.Interval.String(),
		"outbox":      queue.Path(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

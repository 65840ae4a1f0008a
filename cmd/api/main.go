package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/apexlabs-backend/api/routes"
	"github.com/angelmondragon/apexlabs-backend/internal/auth"
	"github.com/angelmondragon/apexlabs-backend/internal/broadcast"
	"github.com/angelmondragon/apexlabs-backend/internal/cron"
	"github.com/angelmondragon/apexlabs-backend/internal/notifications"
	"github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/internal/pendingsync"
	"github.com/angelmondragon/apexlabs-backend/pkg/auth/session"
	"github.com/angelmondragon/apexlabs-backend/pkg/catalog"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/db"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/metrics"
	"github.com/angelmondragon/apexlabs-backend/pkg/migrate"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
	"github.com/angelmondragon/apexlabs-backend/pkg/pgnotify"
	"github.com/angelmondragon/apexlabs-backend/pkg/pubsub"
	"github.com/angelmondragon/apexlabs-backend/pkg/redis"
	"github.com/angelmondragon/apexlabs-backend/pkg/security"
	"github.com/angelmondragon/apexlabs-backend/pkg/sendgrid"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)

	queue, err := outbox.New(outbox.Options{
		Path:        cfg.Outbox.FilePath,
		LockTimeout: cfg.Outbox.LockTimeout,
		LockRetry:   cfg.Outbox.LockRetry,
		Depth:       orderMetrics,
	})
	if err != nil {
		return err
	}

	repo := orders.NewRepository(dbClient.DB())
	allocator, err := orders.NewAllocator(orders.AllocatorParams{
		Store:        repo,
		Logger:       logg,
		Metrics:      orderMetrics,
		NodeID:       cfg.Orders.NodeID,
		CheckTimeout: cfg.DB.ReadTimeout,
	})
	if err != nil {
		return err
	}

	var prices orders.PriceCatalog
	if cfg.Orders.CatalogPath != "" {
		cat, err := catalog.Load(cfg.Orders.CatalogPath)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "products", cat.Len()), "product catalog loaded")
		prices = cat
	}

	dispatcher, closeNotifier, err := buildNotifier(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeNotifier()) }()

	ingestor, err := orders.NewIngestor(orders.IngestorParams{
		Repo:         repo,
		Allocator:    allocator,
		Outbox:       queue,
		Notifier:     dispatcher,
		Catalog:      prices,
		Metrics:      orderMetrics,
		Logger:       logg,
		WriteTimeout: cfg.DB.WriteTimeout,
	})
	if err != nil {
		return err
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:         repo,
		Tx:           dbClient,
		ListLimit:    cfg.Orders.ListLimit,
		ReadTimeout:  cfg.DB.ReadTimeout,
		WriteTimeout: cfg.DB.WriteTimeout,
	})
	if err != nil {
		return err
	}

	drainLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("pending-sync"), cfg.PendingSync.LockTTL)
	if err != nil {
		return err
	}
	reconciler, err := pendingsync.New(pendingsync.Params{
		Queue:        queue,
		Orders:       repo,
		Logger:       logg,
		Lock:         drainLock,
		Metrics:      orderMetrics,
		WriteTimeout: cfg.DB.WriteTimeout,
		DrainTimeout: cfg.PendingSync.DrainTimeout,
	})
	if err != nil {
		return err
	}

	listener, closeListener, err := buildListener(ctx, cfg, logg, orderMetrics)
	if err != nil {
		return err
	}
	defer closeListener()

	broadcaster, err := broadcast.New(broadcast.Params{
		Source:         listener,
		Logger:         logg,
		Heartbeat:      cfg.Stream.Heartbeat,
		ConnectTimeout: cfg.Stream.ConnectTimeout,
	})
	if err != nil {
		return err
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}
	if security.NeedsRehash(cfg.Admin.PasswordHash, cfg.Password) {
		logg.Warn(ctx, "admin.password.rehash_recommended")
	}
	authService, err := auth.NewService(auth.ServiceParams{
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordHash:   cfg.Admin.PasswordHash,
	})
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"addr":   addr,
		"outbox": queue.Path(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			redisClient,
			sessionManager,
			authService,
			ingestor,
			ordersSvc,
			queue,
			reconciler,
			broadcaster,
			promhttp.Handler(),
		),
		ReadHeaderTimeout: 10 * time.Second,
		// open order streams end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logg.Info(logCtx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logg.Info(logCtx, "api server stopped")
	return nil
}

// buildListener starts the orders change feed. Without Postgres there is no
// feed: the listener never becomes ready and streams report TIMED_OUT.
func buildListener(ctx context.Context, cfg *config.Config, logg *logger.Logger, m pgnotify.Metrics) (*pgnotify.Listener, func(), error) {
	var (
		connect pgnotify.Connector
		pool    *pgxpool.Pool
	)
	if cfg.DB.Driver != config.DBDriverSQLite {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, err
		}
		connect = pgnotify.PoolConnector(pool)
	} else {
		connect = func(context.Context) (pgnotify.Conn, error) {
			return nil, errors.New("change feed requires postgres")
		}
	}

	listener, err := pgnotify.New(pgnotify.Options{
		Channel: cfg.Stream.Channel,
		Connect: connect,
		Logger:  logg,
		Metrics: m,
		Buffer:  cfg.Stream.SubscriberBuf,
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, err
	}

	if pool == nil {
		logg.Warn(ctx, "order change feed disabled for sqlite store")
		return listener, func() {}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = listener.Run(runCtx)
	}()
	return listener, func() {
		cancel()
		<-done
		pool.Close()
	}, nil
}

// buildNotifier wires the notification channels selected by APEX_NOTIFY_DRIVER.
func buildNotifier(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*notifications.Dispatcher, func() error, error) {
	params := notifications.DispatcherParams{
		Logger:     logg,
		OwnerEmail: cfg.Notify.OwnerEmail,
	}
	closer := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(cfg.Notify.Driver)) {
	case config.NotifyDriverSendgrid:
		mailer, err := sendgrid.NewClient(cfg.Sendgrid.APIKey, sendgrid.Address{
			Email: cfg.Sendgrid.DefaultFrom,
			Name:  cfg.Sendgrid.FromName,
		})
		if err != nil {
			return nil, nil, err
		}
		params.Mailer = mailer
	case config.NotifyDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		publisher := client.OrderEvents()
		params.Publisher = notifications.NewPubSubPublisher(publisher)
		closer = func() error {
			if publisher != nil {
				publisher.Stop()
			}
			return client.Close()
		}
	}

	dispatcher, err := notifications.NewDispatcher(params)
	if err != nil {
		return nil, nil, multierr.Append(err, closer())
	}
	return dispatcher, closer, nil
}

package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/apexlabs-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/apexlabs-backend/api/controllers/orders"
	"github.com/angelmondragon/apexlabs-backend/api/middleware"
	"github.com/angelmondragon/apexlabs-backend/internal/auth"
	"github.com/angelmondragon/apexlabs-backend/internal/broadcast"
	"github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/internal/pendingsync"
	"github.com/angelmondragon/apexlabs-backend/pkg/auth/session"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/db"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
	"github.com/angelmondragon/apexlabs-backend/pkg/redis"
)

// OrderSubmitter accepts storefront orders. *orders.Ingestor satisfies it.
type OrderSubmitter interface {
	Submit(ctx context.Context, payload orders.OrderPayload) (orders.SubmitResult, error)
}

// PendingOutbox is the read side of the fallback outbox used by admin routes.
type PendingOutbox interface {
	ListAll(ctx context.Context) ([]outbox.Entry, error)
	Len(ctx context.Context) (int, error)
}

// PendingDrainer runs an outbox drain. *pendingsync.Reconciler satisfies it.
type PendingDrainer interface {
	Drain(ctx context.Context) (pendingsync.Report, error)
}

// ChangeStreamer relays order changes to one client.
type ChangeStreamer interface {
	Serve(ctx context.Context, sink broadcast.Sink) error
}

type rateLimitStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	rateStore rateLimitStore,
	idempotencyStore redis.IdempotencyStore,
	sessions session.AccessSessionChecker,
	authService auth.Service,
	submitter OrderSubmitter,
	ordersSvc orders.Service,
	pending PendingOutbox,
	drainer PendingDrainer,
	streamer ChangeStreamer,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	loginLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:   "admin-login",
		Window: cfg.RateLimit.LoginWindow,
		Limit:  cfg.RateLimit.LoginIPLimit,
	}, rateStore, logg)
	// order intake keeps working when redis is degraded
	orderLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:     "order-submit",
		Window:   cfg.RateLimit.OrderWindow,
		Limit:    cfg.RateLimit.OrderIPLimit,
		FailOpen: true,
	}, rateStore, logg)
	idempotent := middleware.Idempotency(idempotencyStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.With(orderLimit, idempotent).Post("/api/orders", ordercontrollers.Submit(submitter, logg))

	r.Route("/api/admin", func(r chi.Router) {
		r.With(loginLimit).Post("/login", controllers.AdminLogin(authService, cfg.Admin, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.JWT, cfg.Admin.CookieName, sessions, logg))

			r.Post("/logout", controllers.AdminLogout(authService, cfg.Admin, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.AdminList(ordersSvc, logg))
				r.Get("/updates", ordercontrollers.AdminUpdates(ordersSvc, logg))
				r.Get("/stream", controllers.OrderStream(streamer, logg))
				r.Get("/{orderNumber}", ordercontrollers.AdminDetail(ordersSvc, logg))
				r.With(idempotent).Patch("/{orderNumber}/status", ordercontrollers.AdminUpdateStatus(ordersSvc, logg))
			})

			r.Get("/pending", controllers.PendingList(pending, logg))
			r.Post("/sync-pending", controllers.SyncPending(drainer, logg))
			r.Get("/store-status", controllers.StoreStatus(dbP, pending, logg))
		})
	})

	return r
}

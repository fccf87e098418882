// Package app собирает хранилище, события, сервисы и HTTP-маршруты по конфигурации.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/senyabanana/coop-offers/internal/db"
	"github.com/senyabanana/coop-offers/internal/events"
	"github.com/senyabanana/coop-offers/internal/handlers"
	"github.com/senyabanana/coop-offers/internal/middleware"
	"github.com/senyabanana/coop-offers/internal/realtime"
	"github.com/senyabanana/coop-offers/internal/repository"
	"github.com/senyabanana/coop-offers/internal/repository/memory"
	"github.com/senyabanana/coop-offers/internal/router"
	"github.com/senyabanana/coop-offers/internal/router/config"
	"github.com/senyabanana/coop-offers/internal/services"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App - собранное приложение.
type App struct {
	Store        repository.Store
	Offers       *services.OfferService
	Negotiations *services.NegotiationService
	Orders       *services.OrderService
	Sweep        *services.SweepService
	Hub          *realtime.Hub
	Identity     *middleware.Identity
	Handler      http.Handler

	logger     *log.Logger
	pool       *pgxpool.Pool
	dispatcher *events.Dispatcher
	client     *asynq.Client
}

// New собирает приложение. Для postgres применяет миграции. События процесса всегда
// доходят до его websocket-хаба напрямую, при заданном REDIS_ADDR они ещё ставятся
// в очередь asynq для cmd/worker.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	a := &App{logger: logger, Hub: realtime.NewHub(logger)}

	var health handlers.HealthCheck
	switch cfg.StorageDriver {
	case config.PostgresDriver:
		if err := db.RunMigrations(cfg.MigrationURL, cfg.PostgresConn, logger); err != nil {
			return nil, err
		}
		pool, err := db.InitDb(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.Store = repository.NewPostgresStore(pool)
		health = pool.Ping
	case config.MemoryDriver:
		a.Store = memory.NewStore()
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	var enqueuer events.Enqueuer
	if cfg.RedisAddr != "" {
		a.client = asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		enqueuer = a.client
	}
	sink := eventSink(enqueuer, a.Hub, logger)
	a.dispatcher = events.NewDispatcher(sink, logger, cfg.EventBuffer)

	retry := services.RetryPolicy{Attempts: cfg.FanoutRetries, Backoff: cfg.FanoutBackoff}
	a.Orders = services.NewOrderService(a.Store, logger)
	a.Offers = services.NewOfferService(a.Store, a.dispatcher, logger, retry)
	a.Negotiations = services.NewNegotiationService(a.Store, a.Orders, a.dispatcher, logger, services.NegotiationConfig{
		TTL:   cfg.NegotiationTTL,
		Retry: retry,
	})
	a.Sweep = services.NewSweepService(a.Offers, a.Negotiations, logger)
	a.Identity = middleware.NewIdentity(cfg.JWTSecret, logger)

	a.Handler = router.InitRoutes(router.Handlers{
		Ping:         handlers.NewPingHandler(health, logger),
		Offers:       handlers.NewOfferHandler(a.Offers, a.Negotiations, a.Hub, logger, cfg.RequestTimeout),
		Negotiations: handlers.NewNegotiationHandler(a.Negotiations, logger, cfg.RequestTimeout),
		Orders:       handlers.NewOrderHandler(a.Orders, logger, cfg.RequestTimeout),
		Maintenance:  handlers.NewMaintenanceHandler(a.Sweep, logger, cfg.RequestTimeout),
	}, a.Identity.Middleware)
	return a, nil
}

// eventSink доставляет событие в хаб процесса и, если задана очередь, в asynq.
// Без очереди события пишутся в лог.
func eventSink(enqueuer events.Enqueuer, hub events.Sink, logger *log.Logger) events.Sink {
	if enqueuer == nil {
		return events.MultiSink{events.LogSink{Logger: logger}, hub}
	}
	return events.MultiSink{events.NewAsynqSink(enqueuer), hub}
}

// Close дожидается фоновых задач и освобождает ресурсы.
func (a *App) Close() {
	if a.Offers != nil {
		a.Offers.Wait()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Printf("close asynq client: %v", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

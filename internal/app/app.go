package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/seatledger/internal/config"
	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/notify"
	"github.com/kirinyoku/seatledger/internal/payment"
	"github.com/kirinyoku/seatledger/internal/postgres"
	"github.com/kirinyoku/seatledger/internal/redis"
	postgresrepo "github.com/kirinyoku/seatledger/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/seatledger/internal/repository/redis"
	"github.com/kirinyoku/seatledger/internal/service"
	"github.com/kirinyoku/seatledger/internal/service/recovery"
	httpgin "github.com/kirinyoku/seatledger/internal/transport/http/gin"
	"github.com/kirinyoku/seatledger/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	idempotencyTTL  = 2 * time.Hour
	startupActor    = "system:startup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	rdb        *goredis.Client
	services   *service.Services
	dispatcher *notify.Dispatcher
	httpServer *http.Server
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN()})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	rdb, err := redis.New(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pool)
	cache := redisrepo.NewCache(rdb)
	availabilityBus := redisrepo.NewAvailabilityPubSub(rdb)
	bookingEvents := redisrepo.NewBookingEventsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "holds", cfg.Booking.HoldRateLimit, time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, idempotencyTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var sessions recovery.SessionFetcher
	if cfg.Stripe.SecretKey != "" {
		sessions = payment.NewStripeSessions(cfg.Stripe.SecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY is not set, booking recovery is disabled")
	}

	// Initialize services
	services := service.NewServices(service.Deps{
		Store: store,
		Validator: validation.New(validation.Config{
			HoldTimeout: cfg.Booking.HoldTimeout,
			CutoffDays:  &cfg.Booking.TicketCutoffDays,
		}, time.Now),
		Cache:     cache,
		Broadcast: availabilityBus,
		Events:    bookingEvents,
		Limiter:   limiter,
		Parser:    payment.NewVerifier(cfg.Stripe.WebhookSecret),
		Sessions:  sessions,
		Metrics:   m,
		Logger:    logger,
	})

	if cfg.Admin.APIToken == "" {
		logger.Warn("ADMIN_API_TOKEN is not set, admin routes are disabled")
	}

	// Initialize Gin router
	router := httpgin.NewRouter(services, logger, httpgin.Options{
		AdminToken:  cfg.Admin.APIToken,
		Metrics:     m,
		Idempotency: idempotencyStore,
	})

	dispatcher := notify.NewDispatcher(
		bookingEvents,
		notify.NewLogNotifier(logger.With("component", "notify")),
		logger.With("component", "notify"),
	)

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		rdb:        rdb,
		services:   services,
		dispatcher: dispatcher,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	// Counters may have drifted while the service was down.
	if _, err := a.services.Availability.SyncAllEventsAvailability(ctx, startupActor); err != nil {
		a.logger.Error("startup availability sync incomplete", "error", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.services.Ledger.RunSweeper(gCtx, a.cfg.Booking.HoldSweepInterval)
	})

	g.Go(func() error {
		return a.dispatcher.Run(gCtx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("redis close failed", "error", err)
	}
	a.pool.Close()
}

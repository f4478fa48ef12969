// Package app wires the checkout service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/api"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/seed"
	"github.com/xenking/kart-checkout/internal/storage/memory"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// store is what the service needs from an order store.
type store interface {
	order.TxRunner
	invoice.Reader
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	healthSvc := health.New()
	healthSvc.Register(health.Check{
		Name:    "goroutines",
		Kind:    health.Liveness,
		Timeout: time.Second,
		Func:    health.GoroutineLimit(10000),
	})

	var st store
	switch cfg.Storage.Driver {
	case DriverMemory:
		lg.Warn("Using in-memory store, data is lost on restart")
		ms, err := newMemoryStore(cfg.Storage.SeedFile)
		if err != nil {
			return err
		}
		st = ms
	default:
		pool, err := postgres.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.Register(health.Check{
			Name:    "postgres",
			Kind:    health.Readiness,
			Timeout: 5 * time.Second,
			Func:    health.Ping(pool),
		})
		st = postgres.NewStore(pool)
	}

	notifier, closeNotifier, err := newNotifier(cfg.Redis, healthSvc)
	if err != nil {
		return err
	}
	defer closeNotifier()

	coordinator := order.NewCoordinator(st)
	committer, err := order.NewCommitter(coordinator,
		order.WithRetryPolicy(cfg.Retry.Policy()),
		order.WithNotifier(notifier, cfg.Notify.Timeout),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create committer")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.Handle("/livez", healthSvc.Handler(health.Liveness))
	mux.Handle("/readyz", healthSvc.Handler(health.Readiness))
	api.NewHandler(committer, st,
		api.WithPlaceOrderMiddleware(httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Rate:       cfg.RateLimit.Rate,
			Burst:      cfg.RateLimit.Burst,
			TrustProxy: cfg.RateLimit.TrustProxy,
		})),
	).Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		committer.Wait()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newMemoryStore creates a memory store populated from the catalog fixture
// at seedFile. An empty path yields an empty store.
func newMemoryStore(seedFile string) (*memory.Store, error) {
	st := memory.New()
	if seedFile == "" {
		return st, nil
	}
	c, err := seed.Load(seedFile)
	if err != nil {
		return nil, errors.Wrap(err, "load seed catalog")
	}
	for _, p := range c.Products {
		st.PutProduct(p)
	}
	for _, v := range c.Variants {
		st.PutVariant(v)
	}
	for _, cp := range c.Coupons {
		st.PutCoupon(cp)
	}
	return st, nil
}

// newNotifier returns the Redis publisher when a URL is configured and the
// log notifier otherwise.
func newNotifier(cfg RedisConfig, h *health.Health) (order.Notifier, func(), error) {
	if cfg.URL == "" {
		return notify.Log{}, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	h.Register(health.Check{
		Name:    "redis",
		Kind:    health.Readiness,
		Timeout: 2 * time.Second,
		Func: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	})
	return notify.NewRedis(client, cfg.Channel), func() { _ = client.Close() }, nil
}

// Package app wires configuration, storage, payment sinks and the HTTP
// server of the storefront.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/mux"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/paysink"
	"github.com/xenking/storefront/internal/paysink/postgrest"
	"github.com/xenking/storefront/internal/paysink/rest"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	redisstore "github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// closers runs deferred cleanups in reverse order.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("sink", cfg.Sink.Kind),
		zap.String("sessions", cfg.Sessions.Backend),
		zap.String("notify", cfg.Notify.Backend),
	)

	var cleanup closers
	defer cleanup.run()

	healthSvc := health.New()
	healthSvc.Register(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Register(health.Liveness, "gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	sink, err := buildSink(ctx, m, cfg, healthSvc, &cleanup)
	if err != nil {
		return errors.Wrap(err, "create payment sink")
	}
	store, err := buildStore(ctx, cfg, healthSvc, &cleanup)
	if err != nil {
		return errors.Wrap(err, "create session store")
	}
	notifier, err := buildNotifier(ctx, cfg, &cleanup)
	if err != nil {
		return errors.Wrap(err, "create notifier")
	}

	svc, err := checkout.NewService(store, sink,
		checkout.WithNotifier(notifier),
		checkout.WithSubmitTimeout(cfg.SubmitTimeout),
		checkout.WithNotifyTimeout(cfg.Notify.Timeout),
		checkout.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	h, err := handler.New(svc, handler.Config{})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	router := mux.NewRouter()
	router.HandleFunc("/livez", healthSvc.LiveEndpoint).Methods(http.MethodGet)
	router.HandleFunc("/readyz", healthSvc.ReadyEndpoint).Methods(http.MethodGet)
	h.Register(router)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// A synchronous API submit waits for the sink.
		WriteTimeout:   cfg.SubmitTimeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Location"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
			httpmiddleware.Gzip(pgzip.DefaultCompression),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			lg.Error("Payment attempts did not finish", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

func buildSink(ctx context.Context, m *app.Telemetry, cfg *Config, hs *health.Health, cleanup *closers) (payment.Sink, error) {
	switch cfg.Sink.Kind {
	case SinkTable:
		tc := cfg.Sink.Table
		pool, err := postgres.NewPool(ctx, tc.DatabaseURL, tc.MaxConns)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		cleanup.add(pool.Close)

		if tc.Migrate {
			if err := postgres.RunMigrations(ctx, pool); err != nil {
				return nil, errors.Wrap(err, "run migrations")
			}
		}
		hs.Register(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
		return postgres.NewTransactionSink(pool, postgres.TransactionMeta{
			CreditCardID: tc.CreditCardID,
			Description:  tc.Description,
		}), nil
	case SinkPostgREST:
		pc := cfg.Sink.PostgREST
		return postgrest.New(postgrest.Config{
			URL:          pc.URL,
			APIKey:       pc.APIKey,
			Table:        pc.Table,
			CreditCardID: pc.CreditCardID,
			Description:  pc.Description,
		}, paysink.NewHTTPClient(m.TracerProvider())), nil
	default:
		return rest.New(cfg.Sink.REST.BaseURL, paysink.NewHTTPClient(m.TracerProvider())), nil
	}
}

func buildStore(ctx context.Context, cfg *Config, hs *health.Health, cleanup *closers) (checkout.Store, error) {
	sc := cfg.Sessions
	if sc.Backend == SessionsRedis {
		client := redisstore.NewClient(sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB)
		cleanup.add(func() { _ = client.Close() })

		store := redisstore.NewSessionStore(client, sc.TTL)
		if err := store.Ping(ctx); err != nil {
			return nil, errors.Wrap(err, "ping redis")
		}
		hs.Register(health.Readiness, "redis", 2*time.Second, health.PingCheck(store))
		return store, nil
	}

	store := memory.NewSessionStore(sc.TTL)
	store.StartJanitor(ctx, sc.JanitorInterval)
	return store, nil
}

func buildNotifier(ctx context.Context, cfg *Config, cleanup *closers) (checkout.Notifier, error) {
	nc := cfg.Notify
	switch nc.Backend {
	case NotifyKafka:
		w, err := notify.NewKafkaWriter(nc.Kafka.Brokers, nc.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		n := notify.NewKafka(w)
		cleanup.add(func() {
			if err := n.Close(); err != nil {
				zctx.From(ctx).Warn("Close kafka writer", zap.Error(err))
			}
		})
		return n, nil
	case NotifyRabbitMQ:
		conn, ch, err := notify.DialRabbitMQ(ctx, nc.RabbitMQ.URL, nc.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = conn.Close() })
		return notify.NewRabbitMQ(ch, nc.RabbitMQ.Exchange), nil
	default:
		return nil, nil
	}
}

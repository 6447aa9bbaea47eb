package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/slotengine/libs/config"
	"github.com/md-rashed-zaman/slotengine/libs/db"
	"github.com/md-rashed-zaman/slotengine/libs/grpcx"
	"github.com/md-rashed-zaman/slotengine/libs/httpx"
	"github.com/md-rashed-zaman/slotengine/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotengine/libs/otel"
	"github.com/md-rashed-zaman/slotengine/libs/runtime"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/engine"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/migrations"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	if err := run(cfg, logger); err != nil {
		logger.Error("service exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg serviceConfig, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(cfg.Service)
	if err != nil {
		return err
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, migrations.FS, "."); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return err
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool, outboxRepo)
	store := storage.NewBreakerStore(repo, logger, cfg.Breaker)
	eng := engine.New(store, repo, logger, cfg.Engine)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "store_breaker", Check: store.ReadyCheck},
	}
	if len(cfg.KafkaBrokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	var counter httpx.CounterStore = httpx.NewMemoryCounter()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		counter = httpx.NewRedisCounter(rdb)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimit, "redis_addr", cfg.RedisAddr)
	} else {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimit)
	}
	limiter := httpx.NewRateLimiter(counter, logger, httpx.RateLimitConfig{
		Limit:    cfg.RateLimit,
		Window:   time.Minute,
		Prefix:   "rl:availability",
		KeyFunc:  httpx.HeaderOrClientKey("X-Provider-Id"),
		FailOpen: cfg.RateLimitFailOpen,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())

	api := http.NewServeMux()
	handlers.NewAvailabilityHandler(eng, logger).Register(api)
	mux.Handle("/api/", httpx.Chain(api,
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
		limiter.Middleware(),
	))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "availability"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	health.SetServingStatus(cfg.Service, healthpb.HealthCheckResponse_SERVING)
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}

	relay := outbox.NewRelay(pool, outboxRepo, logger, outbox.RelayConfig{
		Brokers:   cfg.KafkaBrokers,
		Interval:  cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		relay.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server starting", "addr", grpcLis.Addr().String())
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error {
		<-gctx.Done()
		health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		grpcSrv.GracefulStop()
		logger.Info("servers stopped")
		return nil
	})
	return g.Wait()
}

// Command worker consumes fetch tasks from the Redpanda queue and runs
// them against the social platforms.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	admincli "github.com/fairyhunter13/social-fetcher/internal/adapter/admin"
	httpserver "github.com/fairyhunter13/social-fetcher/internal/adapter/httpserver"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/observability"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/social-fetcher/internal/app"
	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/service/ratelimiter"
	"github.com/fairyhunter13/social-fetcher/internal/usecase"
)

// redisPinger adapts *redis.Client to the readiness interface.
type redisPinger struct{ c *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.c.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process; they are exposed on
	// the dedicated ops listener below so Prometheus can scrape task metrics.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	// Platform wire configuration: endpoints, doc ids, rate budgets and the
	// admin credential-service locator all come from the YAML document.
	platformFile, err := config.LoadPlatformFile(cfg.PlatformConfigPath)
	if err != nil {
		slog.Error("platform config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Database connection
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	taskRepo := postgres.NewTaskRepo(pool)

	// Rate limiter: shared Redis buckets when configured, in-process
	// otherwise. A fleet of workers on the local limiter each applies the
	// full per-host budget, so Redis is the production mode.
	var (
		limiter ratelimiter.Limiter
		rdb     *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = rdb.Close() }()
		limiter = ratelimiter.NewRedisLimiter(rdb, platformFile.RateLimits)
		slog.Info("rate limiter using redis", slog.String("addr", cfg.RedisAddr))
	} else {
		limiter = ratelimiter.NewLocalLimiter(platformFile.RateLimits)
		slog.Warn("rate limiter running in-process; budgets are per-worker")
	}

	// Credential service client
	accounts := admincli.New(platformFile.AdminService.URL)

	// Per-platform strategies over shared wire clients
	factory, err := platform.NewFactory(platformFile, limiter)
	if err != nil {
		slog.Error("platform factory init failed", slog.Any("error", err))
		os.Exit(1)
	}

	proc := usecase.NewProcessor(taskRepo, accounts, factory)
	proc.FanoutParents = platformFile.FanoutParents
	proc.FollowingsPageSize = platformFile.FollowingsPageSize

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, proc)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	// Ops listener: metrics plus liveness/readiness probes.
	var redisClient app.RedisClient
	if rdb != nil {
		redisClient = redisPinger{rdb}
	}
	dbCheck, queueCheck, redisCheck := app.BuildReadinessChecks(pool, consumer, redisClient)
	opsSrv := &httpserver.Server{Cfg: cfg, DBCheck: dbCheck, QueueCheck: queueCheck}
	if rdb != nil {
		opsSrv.RedisCheck = redisCheck
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		mux.Handle("/readyz", opsSrv.ReadyzHandler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker ops server error", slog.Any("error", err))
		}
	}()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting fetch consumer",
		slog.String("group", cfg.ConsumerGroup),
		slog.Any("brokers", cfg.KafkaBrokers))
	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

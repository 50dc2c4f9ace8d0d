// Command server starts the social-fetcher HTTP API.
package main

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

	httpserver "github.com/fairyhunter13/social-fetcher/internal/adapter/httpserver"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/observability"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/social-fetcher/internal/app"
	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP and task instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	taskRepo := postgres.NewTaskRepo(pool)

	// Queue client (Redpanda producer). Replicas need distinct
	// transactional ids or the broker fences the older producer.
	txnID := "social-fetcher-server"
	if host, herr := os.Hostname(); herr == nil && host != "" {
		txnID += "-" + host
	}
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, txnID)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	fetchSvc := usecase.NewFetchService(taskRepo, producer)

	// The API process runs without Redis; the limiter lives in the worker.
	dbCheck, queueCheck, _ := app.BuildReadinessChecks(pool, producer, nil)

	srv := httpserver.NewServer(cfg, fetchSvc, dbCheck, queueCheck, nil)
	handler := app.BuildRouter(cfg, srv)

	api := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		serveErr <- api.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = api.Shutdown(shutdownCtx)
}

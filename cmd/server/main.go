// Command server starts the asynchronous job pipeline's dispatcher process:
// the Ingress API (C4), the per-flavor Result Consumer (C5), and the daily
// Janitor sweep (C7), wired against Postgres (C1) and AMQP (C2).
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

	amqpadapter "github.com/ai-infra/jobpipeline/internal/adapter/broker/amqp"
	"github.com/ai-infra/jobpipeline/internal/adapter/callback"
	httpserver "github.com/ai-infra/jobpipeline/internal/adapter/httpserver"
	"github.com/ai-infra/jobpipeline/internal/adapter/observability"
	"github.com/ai-infra/jobpipeline/internal/adapter/repo/postgres"
	"github.com/ai-infra/jobpipeline/internal/adapter/staging"
	"github.com/ai-infra/jobpipeline/internal/app"
	"github.com/ai-infra/jobpipeline/internal/config"
	"github.com/ai-infra/jobpipeline/internal/domain"
	"github.com/ai-infra/jobpipeline/internal/janitor"
	"github.com/ai-infra/jobpipeline/internal/registry"
	"github.com/ai-infra/jobpipeline/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBConnection)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	poolAdapter := postgres.NewPgxPoolAdapter(pool)
	jobs := postgres.NewJobRepo(poolAdapter)
	reg := registry.Default(cfg.ResultRoot)
	stage := staging.New(cfg.StagingRoot)

	broker := amqpadapter.New(cfg.QueueConnection,
		cfg.BrokerBackoffInitialInterval, cfg.BrokerBackoffMaxInterval, cfg.BrokerBackoffMultiplier)
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("broker close failed", slog.Any("error", err))
		}
	}()

	// Declare every flavor's durable queue pair up front and build one
	// Callback Client per flavor (the client is labeled by flavor for
	// metrics/circuit-breaker naming even though every flavor shares the
	// same tenant base URL).
	callbacks := make(map[string]domain.CallbackClient, len(reg.All()))
	for _, desc := range reg.All() {
		if err := broker.DeclareQueue(ctx, desc.TaskQueue); err != nil {
			slog.Error("declare task queue failed", slog.String("flavor", desc.Name), slog.Any("error", err))
			os.Exit(1)
		}
		if err := broker.DeclareQueue(ctx, desc.ResultQueue); err != nil {
			slog.Error("declare result queue failed", slog.String("flavor", desc.Name), slog.Any("error", err))
			os.Exit(1)
		}
		callbacks[desc.Name] = callback.New(cfg.AihiveAddr, jobs, desc.Name, cfg.WebhookTimeout)
	}

	submitSvc := usecase.SubmitService{Jobs: jobs, Broker: broker, Registry: reg, Staging: stage}
	statusSvc := usecase.StatusService{Jobs: jobs}

	dbCheck := func(ctx context.Context) error {
		return pool.Ping(ctx)
	}

	srv := httpserver.NewServer(cfg, submitSvc, statusSvc, reg, dbCheck)
	handler := app.BuildRouter(cfg, srv)

	// Result Consumer (C5): one goroutine per registered flavor's
	// result_queue, per spec.md §4.4.
	consumer := usecase.ResultConsumer{Jobs: jobs, Callbacks: callbacks, Registry: reg}
	for _, desc := range reg.All() {
		desc := desc
		go func() {
			err := broker.Consume(ctx, desc.ResultQueue, func(ctx domain.Context, body []byte) error {
				return consumer.HandleMessage(ctx, desc.Name, body)
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("result consumer exited", slog.String("flavor", desc.Name), slog.Any("error", err))
			}
		}()
	}

	sweeper := janitor.New(jobs, cfg.StagingRoot, cfg.JanitorRetention, cfg.JanitorStalePendingAfter)
	go func() {
		if err := sweeper.Run(ctx, cfg.JanitorSchedule, cfg.JanitorTimezone); err != nil && ctx.Err() == nil {
			slog.Error("janitor stopped", slog.Any("error", err))
		}
	}()

	// CleanupService (ambient to the Janitor's staging-file sweep): age-limits
	// the jobs table itself so terminal rows don't grow it unbounded.
	cleanupSvc := postgres.NewCleanupService(poolAdapter, cfg.JobRetentionDays)
	go cleanupSvc.RunPeriodic(ctx, cfg.JobRetentionSweepInterval)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

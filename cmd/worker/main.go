// Command worker drains one job flavor's task_queue (C6), invoking its
// registered Executor off the broker's consume goroutine and publishing
// progress/terminal results to the flavor's result_queue. One worker process
// handles exactly one flavor (WORKER_FLAVOR); horizontal scale is by running
// more worker processes, per spec.md §4.5.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	amqpadapter "github.com/ai-infra/jobpipeline/internal/adapter/broker/amqp"
	"github.com/ai-infra/jobpipeline/internal/adapter/observability"
	"github.com/ai-infra/jobpipeline/internal/config"
	"github.com/ai-infra/jobpipeline/internal/registry"
	"github.com/ai-infra/jobpipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
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

	// Expose worker-side job/broker metrics on a dedicated port, separate
	// from the dispatcher's HTTP router.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	reg := registry.Default(cfg.ResultRoot)
	desc, err := reg.Get(cfg.WorkerFlavor)
	if err != nil {
		slog.Error("unknown worker flavor", slog.String("flavor", cfg.WorkerFlavor), slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := amqpadapter.New(cfg.QueueConnection,
		cfg.BrokerBackoffInitialInterval, cfg.BrokerBackoffMaxInterval, cfg.BrokerBackoffMultiplier)
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("broker close failed", slog.Any("error", err))
		}
	}()

	if err := broker.DeclareQueue(ctx, desc.TaskQueue); err != nil {
		slog.Error("declare task queue failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := broker.DeclareQueue(ctx, desc.ResultQueue); err != nil {
		slog.Error("declare result queue failed", slog.Any("error", err))
		os.Exit(1)
	}

	loop := worker.Loop{Broker: broker, Desc: desc}
	slog.Info("worker starting", slog.String("flavor", desc.Name))

	// Best-effort drain on signal: Run blocks consuming until ctx is
	// cancelled, finishing any in-flight message first (spec.md §4.5).
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("worker loop exited", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/marketplace-categorizer/internal/bootstrap"
	"github.com/kirillkom/marketplace-categorizer/internal/config"
	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
	"github.com/kirillkom/marketplace-categorizer/internal/observability/logging"
	"github.com/kirillkom/marketplace-categorizer/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, workerMetrics.Classification())
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	queue, err := app.NewQueue(workerMetrics)
	if err != nil {
		slog.Error("queue_connect_failed", "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSClassifySubject, "queue_group", cfg.NATSQueueGroup)
	// Each job may fan out to every marketplace, so its budget covers several provider calls.
	jobTimeout := cfg.ProviderTimeout*time.Duration(max(1, cfg.RetryMaxAttempts)) + time.Minute
	if err := consume(ctx, queue, app.ClassifyUC, jobTimeout); err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

func consume(ctx context.Context, jobs ports.JobQueue, classifier ports.ProductClassifier, jobTimeout time.Duration) error {
	return jobs.SubscribeClassifyJobs(ctx, func(handlerCtx context.Context, req domain.ClassifyRequest) ([]domain.ClassificationResult, error) {
		jobCtx, cancel := context.WithTimeout(handlerCtx, jobTimeout)
		defer cancel()
		return classifier.ClassifyAll(jobCtx, req)
	})
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akulikov/kbdoc/internal/bootstrap"
	"github.com/akulikov/kbdoc/internal/config"
	"github.com/akulikov/kbdoc/internal/core/ports"
	"github.com/akulikov/kbdoc/internal/observability/logging"
	"github.com/akulikov/kbdoc/internal/observability/metrics"
)

func processHandler(processor ports.DocumentProcessor, m *metrics.WorkerMetrics) func(context.Context, string) error {
	return func(ctx context.Context, documentID string) error {
		processCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		start := time.Now()
		m.StartDocument()
		err := processor.ProcessByID(processCtx, documentID)
		m.FinishDocument("worker", time.Since(start), err)
		return err
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.New("worker", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: app.WorkerMetrics.Handler(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("worker subscribed", "subject", cfg.NATSSubject)
		return app.Queue.SubscribeProcessDocument(groupCtx, processHandler(app.ProcessUC, app.WorkerMetrics))
	})

	group.Go(func() error {
		logger.Info("poll scheduler started", "tick_seconds", cfg.PollTickSec)
		return app.Scheduler.Run(groupCtx)
	})

	group.Go(func() error {
		logger.Info("metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"durable-queue/internal/config"
	"durable-queue/internal/lease"
	"durable-queue/internal/logging"
	"durable-queue/internal/store"
	"durable-queue/internal/telemetry"
	"durable-queue/internal/wakeup"
	"durable-queue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func workerID(cfg config.Config) string {
	if cfg.WorkerID != "" {
		return cfg.WorkerID
	}
	if hostname, _ := os.Hostname(); hostname != "" {
		return hostname
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	id := workerID(cfg)
	logger = logger.With(zap.String("worker_id", id))

	recorder := telemetry.NewRecorder()
	st, err := store.Open(ctx, cfg.PostgresDSN, store.Options{TableName: cfg.QueueTable, Observer: recorder})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	if err := st.Initialize(ctx); err != nil {
		return err
	}

	procOpts := worker.Options{
		Queue:           cfg.WorkerQueue,
		Batch:           cfg.WorkerBatch,
		PollInterval:    cfg.WorkerPollInterval,
		ErrorBackoffMax: cfg.WorkerErrorBackoffMax,
		WorkerID:        id,
		Logger:          logger,
	}
	sweepOpts := worker.SweeperOptions{
		Interval: cfg.RecoveryInterval,
		Stats:    recorder,
		Logger:   logger.Named("sweeper"),
	}
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		procOpts.Wakeup = wakeup.NewDoorbell(rdb)
		sweepOpts.Lease = lease.New(rdb, "queue:recovery:"+st.TableName(), cfg.RecoveryLeaseTTL)
	}

	processor := worker.NewProcessor(st, procOpts)
	processor.RegisterHandler(worker.SimulateType, worker.Simulate)
	sweeper := worker.NewSweeper(st, sweepOpts)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           recorder.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

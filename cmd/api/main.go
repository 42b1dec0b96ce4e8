package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"durable-queue/internal/api"
	"durable-queue/internal/archive"
	"durable-queue/internal/config"
	"durable-queue/internal/logging"
	"durable-queue/internal/ratelimit"
	"durable-queue/internal/store"
	"durable-queue/internal/telemetry"
	"durable-queue/internal/wakeup"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	recorder := telemetry.NewRecorder()
	opts := store.Options{TableName: cfg.QueueTable, Observer: recorder}
	arch, err := archive.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if arch != nil {
		opts.Archiver = arch
	}

	st, err := store.Open(ctx, cfg.PostgresDSN, opts)
	if err != nil {
		return err
	}
	defer st.Shutdown()

	if err := st.Initialize(ctx); err != nil {
		return err
	}

	apiOpts := api.Options{Metrics: recorder.Handler(), Logger: logger}
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		apiOpts.Limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill)
		apiOpts.Notifier = wakeup.NewDoorbell(rdb)
	}

	server := api.New(st, apiOpts)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", httpServer.Addr), zap.String("table", st.TableName()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

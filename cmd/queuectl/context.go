package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"durable-queue/internal/archive"
	"durable-queue/internal/config"
	"durable-queue/internal/models"
	"durable-queue/internal/store"
)

// queueStore is the store surface the commands use.
type queueStore interface {
	Initialize(ctx context.Context) error
	Enqueue(ctx context.Context, jobType string, payload any, opts models.EnqueueOptions) (models.Job, error)
	QueryJobs(ctx context.Context, filter models.JobFilter) (models.JobPage, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	DeleteJob(ctx context.Context, id string) (bool, error)
	RetryJob(ctx context.Context, id string) (models.Job, error)
	GetStats(ctx context.Context, queue string) ([]models.QueueStats, error)
	PurgeJobs(ctx context.Context, olderThan time.Duration, status models.Status) (int64, error)
	RecoverStalledJobs(ctx context.Context) (int64, error)
	Shutdown()
}

type storeOpener func(ctx context.Context, cfg config.Config) (queueStore, error)

func openStore(ctx context.Context, cfg config.Config) (queueStore, error) {
	opts := store.Options{TableName: cfg.QueueTable}
	arch, err := archive.FromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if arch != nil {
		opts.Archiver = arch
	}
	return store.Open(ctx, cfg.PostgresDSN, opts)
}

// commandContext carries flags shared by every subcommand and opens the
// store lazily.
type commandContext struct {
	dsn     string
	table   string
	jsonOut bool

	open  storeOpener
	store queueStore
}

func (c *commandContext) config() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if c.dsn != "" {
		cfg.PostgresDSN = c.dsn
	}
	if c.table != "" {
		cfg.QueueTable = c.table
	}
	return cfg, nil
}

func (c *commandContext) ensureStore(cmd *cobra.Command) (queueStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	st, err := c.open(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	c.store = st
	return st, nil
}

func (c *commandContext) close() {
	if c.store != nil {
		c.store.Shutdown()
		c.store = nil
	}
}

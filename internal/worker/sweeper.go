package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"durable-queue/internal/models"
)

// Recoverer is the part of the store a sweeper drives.
type Recoverer interface {
	RecoverStalledJobs(ctx context.Context) (int64, error)
	GetStats(ctx context.Context, queue string) ([]models.QueueStats, error)
}

// Locker elects a single sweeper per tick across processes.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// StatsSink receives per-queue stats after every tick.
type StatsSink interface {
	SetQueueStats(stats []models.QueueStats)
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Interval time.Duration
	// Lease is optional; without it every process recovers on every tick,
	// which is safe but redundant.
	Lease  Locker
	Stats  StatsSink
	Logger *zap.Logger
}

// Sweeper periodically returns stalled active jobs to pending and refreshes
// queue gauges.
type Sweeper struct {
	store Recoverer
	opts  SweeperOptions
	log   *zap.Logger
}

// NewSweeper creates a sweeper over store.
func NewSweeper(store Recoverer, opts SweeperOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: store, opts: opts, log: log}
}

// Run ticks until ctx is cancelled, then releases the lease if held.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			if s.opts.Lease != nil {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				_ = s.opts.Lease.Release(releaseCtx)
				cancel()
			}
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one recovery pass when this process holds the lease and then
// refreshes stats. It returns the number of recovered jobs.
func (s *Sweeper) Tick(ctx context.Context) int64 {
	recovered := s.recover(ctx)
	if s.opts.Stats != nil {
		stats, err := s.store.GetStats(ctx, "")
		if err != nil {
			s.log.Warn("refresh stats", zap.Error(err))
		} else {
			s.opts.Stats.SetQueueStats(stats)
		}
	}
	return recovered
}

func (s *Sweeper) recover(ctx context.Context) int64 {
	if s.opts.Lease != nil {
		ok, err := s.opts.Lease.Acquire(ctx)
		if err != nil {
			s.log.Warn("acquire recovery lease", zap.Error(err))
			return 0
		}
		if !ok {
			s.log.Debug("recovery lease held elsewhere")
			return 0
		}
		// The lease is left to expire so no other process repeats this tick.
	}

	n, err := s.store.RecoverStalledJobs(ctx)
	if err != nil {
		s.log.Error("recover stalled jobs", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.log.Info("recovered stalled jobs", zap.Int64("count", n))
	}
	return n
}

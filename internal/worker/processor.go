package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"durable-queue/internal/models"
)

// Queue is the part of the store a processor drives.
type Queue interface {
	FetchJobs(ctx context.Context, opts models.FetchOptions) ([]models.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Waiter blocks until new work may be available on a queue.
type Waiter interface {
	Wait(ctx context.Context, queue string, timeout time.Duration) (bool, error)
}

// Handler executes a job for a given type.
type Handler func(ctx context.Context, job models.Job) error

// Options configures a Processor. Zero values fall back to defaults.
type Options struct {
	Queue           string
	Batch           int
	PollInterval    time.Duration
	ErrorBackoffMax time.Duration
	WorkerID        string
	// Wakeup, when set, replaces the idle sleep with a doorbell wait.
	Wakeup Waiter
	Logger *zap.Logger
}

// Processor drives the fetch/execute/acknowledge loop for one queue.
type Processor struct {
	queue    Queue
	opts     Options
	handlers map[string]Handler
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration)
}

// NewProcessor creates a processor over q.
func NewProcessor(q Queue, opts Options) *Processor {
	if opts.Queue == "" {
		opts.Queue = models.DefaultQueue
	}
	if opts.Batch < 1 {
		opts.Batch = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ErrorBackoffMax < opts.PollInterval {
		opts.ErrorBackoffMax = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		queue:    q,
		opts:     opts,
		handlers: make(map[string]Handler),
		log:      log.With(zap.String("queue", opts.Queue), zap.String("worker_id", opts.WorkerID)),
		sleep:    sleepCtx,
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run polls until ctx is cancelled. Storage errors never stop the loop; they
// are retried with exponential backoff.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("processor started", zap.Int("batch", p.opts.Batch), zap.Duration("poll_interval", p.opts.PollInterval))
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			p.log.Info("processor stopped")
			return err
		}

		n, err := p.RunOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			failures++
			wait := backoffWithJitter(p.opts.PollInterval, p.opts.ErrorBackoffMax, failures)
			p.log.Warn("fetch failed", zap.Error(err), zap.Int("failures", failures), zap.Duration("retry_in", wait))
			p.sleep(ctx, wait)
		case n == 0:
			failures = 0
			p.idle(ctx)
		default:
			failures = 0
		}
	}
}

// RunOnce claims one batch and runs it to completion. It returns the number
// of jobs claimed.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	jobs, err := p.queue.FetchJobs(ctx, models.FetchOptions{Queue: p.opts.Queue, Limit: p.opts.Batch})
	if err != nil {
		return 0, fmt.Errorf("fetch jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			p.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

func (p *Processor) process(ctx context.Context, job models.Job) {
	log := p.log.With(
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempts),
	)
	start := time.Now()
	runErr := p.runJob(ctx, job)

	// The outcome is recorded even when ctx was cancelled mid-job so a
	// shutdown does not leave the row active until the stall sweep.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := p.queue.CompleteJob(ackCtx, job.ID); err != nil {
			log.Error("complete job", zap.Error(err))
			return
		}
		log.Info("job completed", zap.Duration("took", time.Since(start)))
		return
	}

	if err := p.queue.FailJob(ackCtx, job.ID, runErr.Error()); err != nil {
		log.Error("fail job", zap.Error(err), zap.NamedError("job_error", runErr))
		return
	}
	log.Warn("job failed", zap.Error(runErr), zap.Duration("took", time.Since(start)))
}

// runJob executes the handler bounded by the job's timeout.
func (p *Processor) runJob(ctx context.Context, job models.Job) (err error) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for type %q", job.Type)
	}

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic", zap.String("job_id", job.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(jobCtx, job)
}

func (p *Processor) idle(ctx context.Context) {
	if p.opts.Wakeup == nil {
		p.sleep(ctx, p.opts.PollInterval)
		return
	}
	if _, err := p.opts.Wakeup.Wait(ctx, p.opts.Queue, p.opts.PollInterval); err != nil && ctx.Err() == nil {
		p.log.Debug("wakeup wait failed", zap.Error(err))
		p.sleep(ctx, p.opts.PollInterval)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := max
	if exp < float64(max) {
		wait = time.Duration(exp)
	}
	half := int64(wait / 2)
	if half <= 0 {
		return wait
	}
	return wait/2 + time.Duration(rand.Int63n(half))
}

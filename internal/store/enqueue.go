package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"durable-queue/internal/models"
)

type insertParams struct {
	id         string
	jobType    string
	payload    []byte
	queue      string
	priority   int
	maxRetries int
	backoff    []byte
	timeoutMS  int64
	uniqueKey  *string
	runAt      *time.Time
	metadata   []byte
}

func (p insertParams) args() []any {
	return []any{
		p.id, p.jobType, p.payload, p.queue, p.priority, p.maxRetries,
		p.backoff, p.timeoutMS, p.uniqueKey, p.runAt, p.metadata,
	}
}

// Enqueue inserts a pending job. When opts.UniqueKey is set and a pending or
// active job already holds that key, the existing job is returned instead.
func (s *Store) Enqueue(ctx context.Context, jobType string, payload any, opts models.EnqueueOptions) (models.Job, error) {
	if err := s.checkOpen(); err != nil {
		return models.Job{}, err
	}
	p, err := buildInsert(jobType, payload, opts)
	if err != nil {
		return models.Job{}, err
	}

	if p.uniqueKey == nil {
		job, err := scanJob(s.db.QueryRow(ctx, s.sql.insert, p.args()...))
		if err != nil {
			return models.Job{}, fmt.Errorf("insert job: %w", err)
		}
		s.emit(EventEnqueued, job)
		return job, nil
	}

	job, deduplicated, err := s.enqueueUnique(ctx, p)
	if err != nil {
		return models.Job{}, err
	}
	if deduplicated {
		s.emit(EventDeduplicated, job)
	} else {
		s.emit(EventEnqueued, job)
	}
	return job, nil
}

// dedupStep is a state of the bounded insert/lookup loop used for unique
// keys. The conflicting row can finish between the conflict and the lookup,
// so one extra insert is allowed before giving up.
type dedupStep int

const (
	dedupInsert dedupStep = iota
	dedupLookup
	dedupRetryInsert
	dedupRetryLookup
	dedupExhausted
)

func (st dedupStep) String() string {
	switch st {
	case dedupInsert:
		return "insert"
	case dedupLookup:
		return "lookup"
	case dedupRetryInsert:
		return "retry-insert"
	case dedupRetryLookup:
		return "retry-lookup"
	default:
		return "exhausted"
	}
}

// next returns the state that follows st when the step found nothing.
func (st dedupStep) next() dedupStep {
	switch st {
	case dedupInsert:
		return dedupLookup
	case dedupLookup:
		return dedupRetryInsert
	case dedupRetryInsert:
		return dedupRetryLookup
	default:
		return dedupExhausted
	}
}

func (s *Store) enqueueUnique(ctx context.Context, p insertParams) (models.Job, bool, error) {
	for step := dedupInsert; step != dedupExhausted; step = step.next() {
		var (
			job models.Job
			err error
		)
		isInsert := step == dedupInsert || step == dedupRetryInsert
		if isInsert {
			job, err = scanJob(s.db.QueryRow(ctx, s.sql.insertUnique, p.args()...))
		} else {
			job, err = scanJob(s.db.QueryRow(ctx, s.sql.findUnique, *p.uniqueKey))
		}
		switch {
		case err == nil:
			return job, !isInsert, nil
		case errors.Is(err, pgx.ErrNoRows):
			continue
		default:
			return models.Job{}, false, fmt.Errorf("enqueue unique %q (%s): %w", *p.uniqueKey, step, err)
		}
	}
	return models.Job{}, false, fmt.Errorf("%w: unique key %q", ErrDedupExhausted, *p.uniqueKey)
}

func buildInsert(jobType string, payload any, opts models.EnqueueOptions) (insertParams, error) {
	if strings.TrimSpace(jobType) == "" {
		return insertParams{}, fmt.Errorf("%w: type must not be empty", ErrInvalidJob)
	}

	p := insertParams{
		id:         uuid.NewString(),
		jobType:    jobType,
		queue:      opts.Queue,
		priority:   models.DefaultPriority,
		maxRetries: models.DefaultMaxRetries,
		timeoutMS:  opts.TimeoutMS,
		runAt:      opts.RunAt,
	}
	if p.queue == "" {
		p.queue = models.DefaultQueue
	}
	if opts.Priority != nil {
		p.priority = *opts.Priority
	}
	if p.priority < models.MinPriority || p.priority > models.MaxPriority {
		return insertParams{}, fmt.Errorf("%w: priority %d outside %d-%d", ErrInvalidJob, p.priority, models.MinPriority, models.MaxPriority)
	}
	if opts.MaxRetries != nil {
		p.maxRetries = *opts.MaxRetries
	}
	if p.maxRetries < 0 {
		return insertParams{}, fmt.Errorf("%w: max retries must be >= 0", ErrInvalidJob)
	}
	if p.timeoutMS < 0 {
		return insertParams{}, fmt.Errorf("%w: timeout must be >= 0", ErrInvalidJob)
	}
	if p.timeoutMS == 0 {
		p.timeoutMS = models.DefaultTimeoutMS
	}
	if opts.UniqueKey != "" {
		key := opts.UniqueKey
		p.uniqueKey = &key
	}

	backoff := models.DefaultBackoff()
	if opts.Backoff != nil {
		backoff = *opts.Backoff
		if backoff.Type == "" {
			backoff.Type = models.BackoffExponential
		}
		if !backoff.Type.Valid() {
			return insertParams{}, fmt.Errorf("%w: unknown backoff type %q", ErrInvalidJob, backoff.Type)
		}
		if backoff.DelayMS < 0 || backoff.MaxDelayMS < 0 {
			return insertParams{}, fmt.Errorf("%w: backoff delays must be >= 0", ErrInvalidJob)
		}
		if backoff.DelayMS == 0 {
			backoff.DelayMS = models.DefaultBackoffDelayMS
		}
	}

	var err error
	if p.payload, err = json.Marshal(payload); err != nil {
		return insertParams{}, fmt.Errorf("%w: marshal payload: %v", ErrInvalidJob, err)
	}
	if p.backoff, err = json.Marshal(backoff); err != nil {
		return insertParams{}, fmt.Errorf("marshal backoff: %w", err)
	}
	if opts.Metadata != nil {
		if p.metadata, err = json.Marshal(opts.Metadata); err != nil {
			return insertParams{}, fmt.Errorf("%w: marshal metadata: %v", ErrInvalidJob, err)
		}
	}
	return p, nil
}

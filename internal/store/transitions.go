package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"durable-queue/internal/models"
)

// FetchJobs claims up to opts.Limit due pending jobs from opts.Queue, moving
// them to active. Rows locked by a concurrent fetch are skipped rather than
// waited on, so two callers never claim the same job.
func (s *Store) FetchJobs(ctx context.Context, opts models.FetchOptions) ([]models.Job, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	queue := opts.Queue
	if queue == "" {
		queue = models.DefaultQueue
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.Query(ctx, s.sql.fetch, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch jobs: %w", err)
	}
	// UPDATE ... RETURNING does not preserve the claim order.
	sortClaimOrder(jobs)
	for _, job := range jobs {
		s.emit(EventClaimed, job)
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return jobs, nil
}

func sortClaimOrder(jobs []models.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		a, b := jobs[i], jobs[k]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		switch {
		case a.RunAt == nil && b.RunAt != nil:
			return true
		case a.RunAt != nil && b.RunAt == nil:
			return false
		case a.RunAt != nil && b.RunAt != nil && !a.RunAt.Equal(*b.RunAt):
			return a.RunAt.Before(*b.RunAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// CompleteJob marks an active job completed. A job that is missing or no
// longer active (for example, reclaimed by stall recovery) is left alone.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var queue, jobType string
	err := s.db.QueryRow(ctx, s.sql.complete, id).Scan(&queue, &jobType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	s.emit(EventCompleted, models.Job{ID: id, Queue: queue, Type: jobType})
	return nil
}

// FailJob records a failed attempt. Jobs whose attempts reached maxRetries
// become dead; others return to pending with run_at pushed out by the job's
// backoff. Like CompleteJob it is a no-op for jobs that are not active.
//
// The lookup and the update are separate statements. Both are guarded on
// status = 'active', so a concurrent stall recovery wins cleanly, but the
// pair is not one transaction.
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var (
		job        = models.Job{ID: id}
		attempts   int64
		maxRetries int64
		rawBackoff []byte
	)
	err := s.db.QueryRow(ctx, s.sql.failLookup, id).Scan(&job.Queue, &job.Type, &attempts, &maxRetries, &rawBackoff)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail job %s: lookup: %w", id, err)
	}

	if attempts >= maxRetries {
		tag, err := s.db.Exec(ctx, s.sql.failDead, id, errMsg)
		if err != nil {
			return fmt.Errorf("fail job %s: dead-letter: %w", id, err)
		}
		if tag.RowsAffected() > 0 {
			s.emit(EventDeadLettered, job)
		}
		return nil
	}

	backoff := models.DefaultBackoff()
	if isJSONValue(rawBackoff) {
		if backoff, err = decodeBackoff(rawBackoff); err != nil {
			return fmt.Errorf("fail job %s: %w", id, err)
		}
	}
	delay := CalculateBackoffDelay(backoff, int(attempts))
	tag, err := s.db.Exec(ctx, s.sql.failRetry, id, errMsg, delay.Milliseconds())
	if err != nil {
		return fmt.Errorf("fail job %s: reschedule: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		s.emit(EventRetried, job)
	}
	return nil
}

// RecoverStalledJobs reclaims active jobs whose started_at + timeout has
// passed. Jobs with retries left become pending and immediately due; the rest
// become dead. Rows locked by a concurrent sweep or completion are skipped.
func (s *Store) RecoverStalledJobs(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	rows, err := s.db.Query(ctx, s.sql.recoverStalled, stalledMessage)
	if err != nil {
		return 0, fmt.Errorf("recover stalled jobs: %w", err)
	}
	defer rows.Close()

	var recovered []models.Job
	for rows.Next() {
		var job models.Job
		var status string
		if err := rows.Scan(&job.ID, &job.Queue, &job.Type, &status); err != nil {
			return 0, fmt.Errorf("recover stalled jobs: scan: %w", err)
		}
		job.Status = models.Status(status)
		recovered = append(recovered, job)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("recover stalled jobs: %w", err)
	}

	for _, job := range recovered {
		if job.Status == models.StatusDead {
			s.emit(EventDeadLettered, job)
		} else {
			s.emit(EventRecovered, job)
		}
	}
	return int64(len(recovered)), nil
}

// RetryJob moves a dead job back to pending with a fresh attempt budget.
func (s *Store) RetryJob(ctx context.Context, id string) (models.Job, error) {
	if err := s.checkOpen(); err != nil {
		return models.Job{}, err
	}
	job, err := scanJob(s.db.QueryRow(ctx, s.sql.retry, id))
	if err == nil {
		s.emit(EventRevived, job)
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("retry job %s: %w", id, err)
	}

	existing, err := s.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, fmt.Errorf("retry job %s: %w", id, err)
	}
	if existing == nil {
		return models.Job{}, fmt.Errorf("retry job %s: %w", id, ErrJobNotFound)
	}
	return models.Job{}, fmt.Errorf("retry job %s (status %s): %w", id, existing.Status, ErrJobNotDead)
}

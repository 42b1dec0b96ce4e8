package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"durable-queue/internal/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// QueryJobs returns one page of jobs matching filter, newest first.
func (s *Store) QueryJobs(ctx context.Context, filter models.JobFilter) (models.JobPage, error) {
	if err := s.checkOpen(); err != nil {
		return models.JobPage{}, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return models.JobPage{}, fmt.Errorf("%w: unknown status %q", ErrInvalidJob, filter.Status)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Queue != "" {
		add("queue", filter.Queue)
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.Type != "" {
		add("type", filter.Type)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	t := quoteIdent(s.table)
	var total int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+t+where, args...).Scan(&total); err != nil {
		return models.JobPage{}, fmt.Errorf("count jobs: %w", err)
	}

	listSQL := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		columnList(""), t, where, len(args)+1, len(args)+2)
	rows, err := s.db.Query(ctx, listSQL, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return models.JobPage{}, fmt.Errorf("query jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return models.JobPage{}, fmt.Errorf("query jobs: %w", err)
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return models.JobPage{Jobs: jobs, Total: total, Page: page, Limit: limit}, nil
}

// GetJob fetches a job by id. It returns nil, nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	job, err := scanJob(s.db.QueryRow(ctx, s.sql.get, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// DeleteJob removes a job in any state and reports whether it existed.
func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, s.sql.deleteJob, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	s.observer.Observe(Event{Kind: EventDeleted, JobID: id, Count: 1})
	return true, nil
}

// PurgeJobs deletes jobs in status whose last transition is older than
// olderThan. When an Archiver is configured the deleted rows are handed to it
// inside the deleting transaction.
func (s *Store) PurgeJobs(ctx context.Context, olderThan time.Duration, status models.Status) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidJob, status)
	}
	if olderThan < 0 {
		olderThan = 0
	}
	ms := olderThan.Milliseconds()

	if s.archiver == nil {
		tag, err := s.db.Exec(ctx, s.sql.purge, string(status), ms)
		if err != nil {
			return 0, fmt.Errorf("purge %s jobs: %w", status, err)
		}
		n := tag.RowsAffected()
		s.observer.Observe(Event{Kind: EventPurged, Count: n})
		return n, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge %s jobs: begin tx: %w", status, err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	rows, err := tx.Query(ctx, s.sql.purgeReturning, string(status), ms)
	if err != nil {
		return 0, fmt.Errorf("purge %s jobs: %w", status, err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return 0, fmt.Errorf("purge %s jobs: %w", status, err)
	}
	if len(jobs) > 0 {
		if err := s.archiver.Archive(ctx, jobs); err != nil {
			return 0, fmt.Errorf("purge %s jobs: archive: %w", status, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("purge %s jobs: commit: %w", status, err)
	}
	n := int64(len(jobs))
	s.observer.Observe(Event{Kind: EventPurged, Count: n})
	return n, nil
}

// GetStats returns per-queue status counts. With a queue name it returns a
// single entry for that queue, zeroed when the queue has no jobs.
func (s *Store) GetStats(ctx context.Context, queue string) ([]models.QueueStats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		rows pgx.Rows
		err  error
	)
	if queue == "" {
		rows, err = s.db.Query(ctx, s.sql.stats)
	} else {
		rows, err = s.db.Query(ctx, s.sql.statsQueue, queue)
	}
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := []models.QueueStats{}
	for rows.Next() {
		var st models.QueueStats
		var oldest pgtype.Int8
		if err := rows.Scan(&st.Queue, &st.Pending, &st.Active, &st.Completed, &st.Failed, &st.Dead, &oldest); err != nil {
			return nil, fmt.Errorf("queue stats: scan: %w", err)
		}
		if oldest.Valid {
			age := oldest.Int64
			if age < 0 {
				age = 0
			}
			st.OldestPendingAgeMS = &age
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	if queue != "" && len(stats) == 0 {
		stats = append(stats, models.QueueStats{Queue: queue})
	}
	return stats, nil
}

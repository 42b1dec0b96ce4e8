package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"durable-queue/internal/models"
)

// jobRow mirrors the stored columns with every value nullable, so a row that
// predates a default or was written by hand still maps cleanly.
type jobRow struct {
	ID         pgtype.Text
	Type       pgtype.Text
	Payload    []byte
	Status     pgtype.Text
	Queue      pgtype.Text
	Priority   pgtype.Int8
	Attempts   pgtype.Int8
	MaxRetries pgtype.Int8
	Backoff    []byte
	TimeoutMS  pgtype.Int8
	UniqueKey  pgtype.Text
	RunAt      pgtype.Timestamptz
	StartedAt  pgtype.Timestamptz
	FinishedAt pgtype.Timestamptz
	LastError  pgtype.Text
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	UpdatedAt  pgtype.Timestamptz
}

func (r *jobRow) dest() []any {
	return []any{
		&r.ID, &r.Type, &r.Payload, &r.Status, &r.Queue, &r.Priority, &r.Attempts,
		&r.MaxRetries, &r.Backoff, &r.TimeoutMS, &r.UniqueKey, &r.RunAt,
		&r.StartedAt, &r.FinishedAt, &r.LastError, &r.Metadata, &r.CreatedAt,
		&r.UpdatedAt,
	}
}

func scanJob(row pgx.Row) (models.Job, error) {
	var r jobRow
	if err := row.Scan(r.dest()...); err != nil {
		return models.Job{}, err
	}
	return toJob(r)
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// toJob converts a stored row field by field, substituting the named default
// for every null column. Values that are present but malformed are errors.
func toJob(r jobRow) (models.Job, error) {
	if !r.ID.Valid || r.ID.String == "" {
		return models.Job{}, fmt.Errorf("map job: missing id")
	}
	job := models.Job{
		ID:         r.ID.String,
		Type:       r.Type.String,
		Payload:    rawJSON(r.Payload),
		Status:     models.StatusPending,
		Queue:      textOr(r.Queue, models.DefaultQueue),
		Priority:   int(intOr(r.Priority, models.DefaultPriority)),
		Attempts:   int(intOr(r.Attempts, 0)),
		MaxRetries: int(intOr(r.MaxRetries, models.DefaultMaxRetries)),
		Backoff:    models.DefaultBackoff(),
		TimeoutMS:  intOr(r.TimeoutMS, models.DefaultTimeoutMS),
		UniqueKey:  textPtr(r.UniqueKey),
		RunAt:      timePtr(r.RunAt),
		StartedAt:  timePtr(r.StartedAt),
		FinishedAt: timePtr(r.FinishedAt),
		LastError:  textPtr(r.LastError),
		Metadata:   rawJSON(r.Metadata),
		CreatedAt:  timeOr(r.CreatedAt),
		UpdatedAt:  timeOr(r.UpdatedAt),
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	if r.Status.Valid && r.Status.String != "" {
		status := models.Status(r.Status.String)
		if !status.Valid() {
			return models.Job{}, fmt.Errorf("map job %s: unknown status %q", job.ID, r.Status.String)
		}
		job.Status = status
	}

	if isJSONValue(r.Backoff) {
		b, err := decodeBackoff(r.Backoff)
		if err != nil {
			return models.Job{}, fmt.Errorf("map job %s: %w", job.ID, err)
		}
		job.Backoff = b
	}
	return job, nil
}

func decodeBackoff(raw []byte) (models.Backoff, error) {
	var b models.Backoff
	if err := json.Unmarshal(raw, &b); err != nil {
		return models.Backoff{}, fmt.Errorf("decode backoff: %w", err)
	}
	if b.Type == "" {
		b.Type = models.BackoffExponential
	}
	if !b.Type.Valid() {
		return models.Backoff{}, fmt.Errorf("decode backoff: unknown type %q", b.Type)
	}
	if b.DelayMS <= 0 {
		b.DelayMS = models.DefaultBackoffDelayMS
	}
	return b, nil
}

func isJSONValue(raw []byte) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func rawJSON(raw []byte) json.RawMessage {
	if !isJSONValue(raw) {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func textOr(t pgtype.Text, def string) string {
	if t.Valid && t.String != "" {
		return t.String
	}
	return def
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func intOr(v pgtype.Int8, def int64) int64 {
	if v.Valid {
		return v.Int64
	}
	return def
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

func timeOr(t pgtype.Timestamptz) time.Time {
	if t.Valid {
		return t.Time
	}
	return time.Time{}
}

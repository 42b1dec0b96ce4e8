package models

import (
	"encoding/json"
	"time"
)

// Status enumerates lifecycle states persisted in Postgres.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusActive, StatusCompleted, StatusFailed, StatusDead}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether a job in this status is finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDead
}

// BackoffType selects the retry delay curve.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffLinear      BackoffType = "linear"
	BackoffFixed       BackoffType = "fixed"
)

// Valid reports whether t is a known backoff curve.
func (t BackoffType) Valid() bool {
	switch t {
	case BackoffExponential, BackoffLinear, BackoffFixed:
		return true
	}
	return false
}

// Defaults applied at enqueue time and when mapping null columns.
const (
	DefaultQueue             = "default"
	DefaultPriority          = 5
	MinPriority              = 0
	MaxPriority              = 9
	DefaultMaxRetries        = 3
	DefaultBackoffDelayMS    = 1000
	DefaultBackoffMaxDelayMS = 300000
	DefaultTimeoutMS         = 30000
)

// Backoff governs how failed jobs are rescheduled. Delays are milliseconds.
// A zero MaxDelayMS means DefaultBackoffMaxDelayMS.
type Backoff struct {
	Type       BackoffType `json:"type"`
	DelayMS    int64       `json:"delay"`
	MaxDelayMS int64       `json:"max_delay,omitempty"`
}

// DefaultBackoff is used when a job is enqueued without a backoff policy.
func DefaultBackoff() Backoff {
	return Backoff{Type: BackoffExponential, DelayMS: DefaultBackoffDelayMS}
}

// Job represents one unit of work persisted in Postgres.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	Queue      string          `json:"queue"`
	Priority   int             `json:"priority"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	Backoff    Backoff         `json:"backoff"`
	TimeoutMS  int64           `json:"timeout_ms"`
	UniqueKey  *string         `json:"unique_key,omitempty"`
	RunAt      *time.Time      `json:"run_at,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	LastError  *string         `json:"last_error,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Timeout returns the stall threshold as a duration.
func (j Job) Timeout() time.Duration {
	if j.TimeoutMS <= 0 {
		return DefaultTimeoutMS * time.Millisecond
	}
	return time.Duration(j.TimeoutMS) * time.Millisecond
}

// DecodePayload unmarshals the job payload into v.
func (j Job) DecodePayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

package models

import "time"

// EnqueueOptions collects the optional inputs to Enqueue. Pointer fields
// distinguish "unset" from legitimate zero values such as priority 0.
type EnqueueOptions struct {
	Queue      string
	Priority   *int
	MaxRetries *int
	Backoff    *Backoff
	TimeoutMS  int64
	UniqueKey  string
	RunAt      *time.Time
	Metadata   any
}

// FetchOptions selects which queue to claim from and how many jobs.
type FetchOptions struct {
	Queue string
	Limit int
}

// JobFilter narrows QueryJobs. Page is 1-based.
type JobFilter struct {
	Queue  string
	Type   string
	Status Status
	Page   int
	Limit  int
}

// JobPage is one page of QueryJobs results.
type JobPage struct {
	Jobs  []Job `json:"jobs"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// QueueStats holds per-queue status counts for backlog monitoring.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int64  `json:"pending"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Dead      int64  `json:"dead"`
	// OldestPendingAgeMS is nil when the queue has no pending jobs.
	OldestPendingAgeMS *int64 `json:"oldest_pending_age_ms,omitempty"`
}

// Total sums every status count.
func (s QueueStats) Total() int64 {
	return s.Pending + s.Active + s.Completed + s.Failed + s.Dead
}

// IntPtr is a convenience for building EnqueueOptions.
func IntPtr(v int) *int { return &v }

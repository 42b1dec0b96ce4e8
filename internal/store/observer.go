package store

import (
	"context"

	"durable-queue/internal/models"
)

// EventKind names a state transition reported to an Observer.
type EventKind string

const (
	EventEnqueued     EventKind = "enqueued"
	EventDeduplicated EventKind = "deduplicated"
	EventClaimed      EventKind = "claimed"
	EventCompleted    EventKind = "completed"
	EventRetried      EventKind = "retried"
	EventDeadLettered EventKind = "dead_lettered"
	EventRecovered    EventKind = "recovered"
	EventRevived      EventKind = "revived"
	EventDeleted      EventKind = "deleted"
	EventPurged       EventKind = "purged"
)

// Event describes one transition. Count is 1 except for purges.
type Event struct {
	Kind    EventKind
	JobID   string
	Queue   string
	JobType string
	Count   int64
}

// Observer receives transition events after they are durable. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// Archiver receives jobs removed by PurgeJobs before the deletion commits. An
// error aborts the purge.
type Archiver interface {
	Archive(ctx context.Context, jobs []models.Job) error
}

func (s *Store) emit(kind EventKind, job models.Job) {
	s.observer.Observe(Event{Kind: kind, JobID: job.ID, Queue: job.Queue, JobType: job.Type, Count: 1})
}

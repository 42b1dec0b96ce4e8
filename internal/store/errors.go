package store

import "errors"

var (
	// ErrInvalidTableName is returned by New for table names that fail the
	// identifier whitelist.
	ErrInvalidTableName = errors.New("store: invalid table name")
	// ErrInvalidJob wraps enqueue validation failures.
	ErrInvalidJob = errors.New("store: invalid job")
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("store: job not found")
	// ErrJobNotDead is returned by RetryJob for jobs that exist but are not dead.
	ErrJobNotDead = errors.New("store: job is not dead")
	// ErrDedupExhausted means a uniqueKey conflict could not be resolved to a
	// winning row after the bounded retry.
	ErrDedupExhausted = errors.New("store: deduplication retry exhausted")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("store: closed")
)

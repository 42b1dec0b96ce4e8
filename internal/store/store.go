package store

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTableName is used when Options.TableName is empty.
const DefaultTableName = "queue_jobs"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// DB is the query-execution capability the store runs on. *pgxpool.Pool,
// *pgx.Conn and pgx.Tx all satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Options configures a Store.
type Options struct {
	// TableName must match ^[A-Za-z_][A-Za-z0-9_-]*$.
	TableName string
	Observer  Observer
	Archiver  Archiver
}

// Store is the Postgres-backed job queue. It is safe for concurrent use;
// all coordination between callers happens through row locks.
type Store struct {
	db       DB
	table    string
	sql      statements
	observer Observer
	archiver Archiver

	ownedPool *pgxpool.Pool
	closed    atomic.Bool
}

// New builds a store over a shared connection pool. The pool is not closed by
// Shutdown.
func New(db DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: nil db")
	}
	table := opts.TableName
	if table == "" {
		table = DefaultTableName
	}
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Store{
		db:       db,
		table:    table,
		sql:      buildStatements(table),
		observer: observer,
		archiver: opts.Archiver,
	}, nil
}

// Open creates a pooled connection to Postgres that the returned store owns.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s, err := New(pool, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.ownedPool = pool
	return s, nil
}

// Connect creates a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// ValidateTableName rejects names that cannot be safely interpolated as an
// identifier.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

// TableName returns the validated table name.
func (s *Store) TableName() string {
	return s.table
}

// Shutdown releases resources the store owns. A pool passed to New is left
// open for its other users.
func (s *Store) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.ownedPool != nil {
		s.ownedPool.Close()
	}
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"durable-queue/internal/models"
)

// fakeDB answers statements from scripted handlers and records every call.
// Statements without a handler fail loudly.
type fakeDB struct {
	mu       sync.Mutex
	calls    []fakeCall
	queryRow func(sql string, args []any) pgx.Row
	exec     func(sql string, args []any) (pgconn.CommandTag, error)
}

type fakeCall struct {
	sql  string
	args []any
}

func (f *fakeDB) record(sql string, args []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{sql: sql, args: args})
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.record(sql, args)
	if f.exec == nil {
		return pgconn.CommandTag{}, errors.New("fakeDB: unexpected Exec")
	}
	return f.exec(sql, args)
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.record(sql, args)
	return nil, errors.New("fakeDB: unexpected Query")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.record(sql, args)
	if f.queryRow == nil {
		return fakeRow{err: errors.New("fakeDB: unexpected QueryRow")}
	}
	return f.queryRow(sql, args)
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeDB: unexpected Begin")
}

func (f *fakeDB) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.sql
	}
	return out
}

// fakeRow scans a fixed list of string, int64 and []byte values.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("fakeRow: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r.values[i].(string)
		case *int64:
			*d = r.values[i].(int64)
		case *[]byte:
			if r.values[i] != nil {
				*d = r.values[i].([]byte)
			}
		default:
			return fmt.Errorf("fakeRow: unsupported destination %T", d)
		}
	}
	return nil
}

// recorder collects observer events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func newFakeStore(db *fakeDB) (*Store, *recorder) {
	rec := &recorder{}
	s, err := New(db, Options{Observer: rec})
	if err != nil {
		panic(err)
	}
	return s, rec
}

func fetchDefault() models.FetchOptions {
	return models.FetchOptions{}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"durable-queue/internal/models"
)

func TestBuildInsertDefaults(t *testing.T) {
	p, err := buildInsert("email.send", map[string]any{"to": "a@example.com"}, models.EnqueueOptions{})
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}
	if p.queue != models.DefaultQueue {
		t.Errorf("queue = %q, want %q", p.queue, models.DefaultQueue)
	}
	if p.priority != models.DefaultPriority {
		t.Errorf("priority = %d, want %d", p.priority, models.DefaultPriority)
	}
	if p.maxRetries != models.DefaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", p.maxRetries, models.DefaultMaxRetries)
	}
	if p.timeoutMS != models.DefaultTimeoutMS {
		t.Errorf("timeoutMS = %d, want %d", p.timeoutMS, models.DefaultTimeoutMS)
	}
	if p.uniqueKey != nil {
		t.Errorf("uniqueKey = %v, want nil", *p.uniqueKey)
	}
	if p.metadata != nil {
		t.Errorf("metadata = %s, want nil", p.metadata)
	}
	var b models.Backoff
	if err := json.Unmarshal(p.backoff, &b); err != nil {
		t.Fatalf("unmarshal backoff: %v", err)
	}
	if b != models.DefaultBackoff() {
		t.Errorf("backoff = %+v, want %+v", b, models.DefaultBackoff())
	}
	if string(p.payload) != `{"to":"a@example.com"}` {
		t.Errorf("payload = %s", p.payload)
	}
	if p.id == "" {
		t.Error("expected generated id")
	}
}

func TestBuildInsertKeepsExplicitZeroes(t *testing.T) {
	p, err := buildInsert("report", nil, models.EnqueueOptions{
		Priority:   models.IntPtr(0),
		MaxRetries: models.IntPtr(0),
		UniqueKey:  "report-42",
		Queue:      "reports",
	})
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}
	if p.priority != 0 || p.maxRetries != 0 {
		t.Fatalf("priority=%d maxRetries=%d, want 0 and 0", p.priority, p.maxRetries)
	}
	if p.uniqueKey == nil || *p.uniqueKey != "report-42" {
		t.Fatalf("uniqueKey = %v", p.uniqueKey)
	}
	if p.queue != "reports" {
		t.Fatalf("queue = %q", p.queue)
	}
}

func TestBuildInsertValidation(t *testing.T) {
	cases := []struct {
		name    string
		jobType string
		opts    models.EnqueueOptions
	}{
		{"empty type", "  ", models.EnqueueOptions{}},
		{"priority too high", "t", models.EnqueueOptions{Priority: models.IntPtr(10)}},
		{"priority negative", "t", models.EnqueueOptions{Priority: models.IntPtr(-1)}},
		{"negative retries", "t", models.EnqueueOptions{MaxRetries: models.IntPtr(-1)}},
		{"negative timeout", "t", models.EnqueueOptions{TimeoutMS: -5}},
		{"unknown backoff", "t", models.EnqueueOptions{Backoff: &models.Backoff{Type: "cubic", DelayMS: 10}}},
		{"negative delay", "t", models.EnqueueOptions{Backoff: &models.Backoff{Type: models.BackoffFixed, DelayMS: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := buildInsert(tc.jobType, nil, tc.opts); !errors.Is(err, ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestBuildInsertRejectsUnmarshalablePayload(t *testing.T) {
	if _, err := buildInsert("t", make(chan int), models.EnqueueOptions{}); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
}

func TestEnqueueUniqueExhaustsAfterOneRetry(t *testing.T) {
	db := &fakeDB{
		queryRow: func(string, []any) pgx.Row { return fakeRow{err: pgx.ErrNoRows} },
	}
	s, rec := newFakeStore(db)

	_, err := s.Enqueue(context.Background(), "sync", nil, models.EnqueueOptions{UniqueKey: "k1"})
	if !errors.Is(err, ErrDedupExhausted) {
		t.Fatalf("expected ErrDedupExhausted, got %v", err)
	}

	want := []string{s.sql.insertUnique, s.sql.findUnique, s.sql.insertUnique, s.sql.findUnique}
	got := db.statements()
	if len(got) != len(want) {
		t.Fatalf("expected %d statements, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statement %d out of order", i)
		}
	}
	if kinds := rec.kinds(); len(kinds) != 0 {
		t.Fatalf("expected no events, got %v", kinds)
	}
}

func TestEnqueueUniqueRetryReusesJobID(t *testing.T) {
	db := &fakeDB{
		queryRow: func(string, []any) pgx.Row { return fakeRow{err: pgx.ErrNoRows} },
	}
	s, _ := newFakeStore(db)
	_, _ = s.Enqueue(context.Background(), "sync", nil, models.EnqueueOptions{UniqueKey: "k1"})

	db.mu.Lock()
	defer db.mu.Unlock()
	first, retry := db.calls[0].args[0], db.calls[2].args[0]
	if first != retry {
		t.Fatalf("retry insert used id %v, want %v", retry, first)
	}
	if key := db.calls[1].args[0]; key != "k1" {
		t.Fatalf("lookup key = %v, want k1", key)
	}
}

func TestEnqueuePropagatesStorageErrors(t *testing.T) {
	boom := errors.New("connection reset")
	db := &fakeDB{
		queryRow: func(string, []any) pgx.Row { return fakeRow{err: boom} },
	}
	s, _ := newFakeStore(db)

	_, err := s.Enqueue(context.Background(), "sync", nil, models.EnqueueOptions{UniqueKey: "k1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if errors.Is(err, ErrDedupExhausted) {
		t.Fatal("storage error must not be reported as dedup exhaustion")
	}
	if n := len(db.statements()); n != 1 {
		t.Fatalf("expected 1 statement before giving up, got %d", n)
	}

	_, err = s.Enqueue(context.Background(), "sync", nil, models.EnqueueOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error on plain insert, got %v", err)
	}
}

func TestEnqueueValidatesBeforeTouchingDB(t *testing.T) {
	db := &fakeDB{}
	s, _ := newFakeStore(db)
	if _, err := s.Enqueue(context.Background(), "", nil, models.EnqueueOptions{}); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
	if n := len(db.statements()); n != 0 {
		t.Fatalf("expected no statements, got %d", n)
	}
}

func TestDedupStepSequence(t *testing.T) {
	want := []dedupStep{dedupInsert, dedupLookup, dedupRetryInsert, dedupRetryLookup, dedupExhausted}
	step := dedupInsert
	for i, w := range want {
		if step != w {
			t.Fatalf("step %d = %s, want %s", i, step, w)
		}
		step = step.next()
	}
	if dedupExhausted.next() != dedupExhausted {
		t.Fatal("exhausted must be absorbing")
	}
}

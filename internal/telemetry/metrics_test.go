package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"durable-queue/internal/models"
	"durable-queue/internal/store"
)

func TestRecorderCountsTransitions(t *testing.T) {
	r := NewRecorder()
	r.Observe(store.Event{Kind: store.EventEnqueued, Queue: "mail", Count: 1})
	r.Observe(store.Event{Kind: store.EventEnqueued, Queue: "mail", Count: 1})
	r.Observe(store.Event{Kind: store.EventDeadLettered, Queue: "mail", Count: 1})
	r.Observe(store.Event{Kind: store.EventPurged, Count: 7})
	r.Observe(store.Event{Kind: store.EventDeleted, JobID: "x", Count: 1})

	if got := testutil.ToFloat64(r.transitions.WithLabelValues("mail", "enqueued")); got != 2 {
		t.Fatalf("enqueued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.transitions.WithLabelValues("mail", "dead_lettered")); got != 1 {
		t.Fatalf("dead_lettered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.purged); got != 7 {
		t.Fatalf("purged = %v, want 7", got)
	}
}

func TestRecorderQueueStatsGauges(t *testing.T) {
	r := NewRecorder()
	age := int64(1500)
	r.SetQueueStats([]models.QueueStats{
		{Queue: "reports", Pending: 4, Active: 1, Dead: 2, OldestPendingAgeMS: &age},
		{Queue: "idle"},
	})
	if got := testutil.ToFloat64(r.depth.WithLabelValues("reports", "pending")); got != 4 {
		t.Fatalf("pending = %v, want 4", got)
	}
	if got := testutil.ToFloat64(r.oldestAge.WithLabelValues("reports")); got != 1.5 {
		t.Fatalf("oldest age = %v, want 1.5", got)
	}
	if got := testutil.ToFloat64(r.oldestAge.WithLabelValues("idle")); got != 0 {
		t.Fatalf("idle oldest age = %v, want 0", got)
	}
}

func TestRecorderHandlerServesMetrics(t *testing.T) {
	r := NewRecorder()
	r.Observe(store.Event{Kind: store.EventClaimed, Queue: "default", Count: 1})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `queue_job_transitions_total{event="claimed",queue="default"} 1`) {
		t.Fatalf("metrics output missing claimed counter:\n%s", body)
	}
}

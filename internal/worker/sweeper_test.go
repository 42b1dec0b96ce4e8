package worker

import (
	"context"
	"errors"
	"testing"

	"durable-queue/internal/models"
)

type fakeRecoverer struct {
	recovered int64
	calls     int
	err       error
	stats     []models.QueueStats
}

func (f *fakeRecoverer) RecoverStalledJobs(context.Context) (int64, error) {
	f.calls++
	return f.recovered, f.err
}

func (f *fakeRecoverer) GetStats(context.Context, string) ([]models.QueueStats, error) {
	return f.stats, nil
}

type fakeLease struct {
	held     bool
	released bool
}

func (f *fakeLease) Acquire(context.Context) (bool, error) { return !f.held, nil }
func (f *fakeLease) Release(context.Context) error {
	f.released = true
	return nil
}

type statsCapture struct{ got []models.QueueStats }

func (s *statsCapture) SetQueueStats(stats []models.QueueStats) { s.got = stats }

func TestSweeperTickRecoversAndPublishesStats(t *testing.T) {
	rec := &fakeRecoverer{recovered: 3, stats: []models.QueueStats{{Queue: "mail", Pending: 3}}}
	sink := &statsCapture{}
	s := NewSweeper(rec, SweeperOptions{Lease: &fakeLease{}, Stats: sink})

	if n := s.Tick(context.Background()); n != 3 {
		t.Fatalf("Tick = %d, want 3", n)
	}
	if len(sink.got) != 1 || sink.got[0].Pending != 3 {
		t.Fatalf("stats = %+v", sink.got)
	}
}

func TestSweeperSkipsRecoveryWithoutLease(t *testing.T) {
	rec := &fakeRecoverer{recovered: 3}
	sink := &statsCapture{}
	s := NewSweeper(rec, SweeperOptions{Lease: &fakeLease{held: true}, Stats: sink})

	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("Tick = %d, want 0", n)
	}
	if rec.calls != 0 {
		t.Fatal("recovered without holding the lease")
	}
	if sink.got == nil {
		t.Fatal("stats should refresh even without the lease")
	}
}

func TestSweeperTickSurvivesStoreError(t *testing.T) {
	rec := &fakeRecoverer{err: errors.New("db down")}
	if n := NewSweeper(rec, SweeperOptions{}).Tick(context.Background()); n != 0 {
		t.Fatalf("Tick = %d, want 0", n)
	}
}

func TestSweeperRunReleasesLease(t *testing.T) {
	lease := &fakeLease{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewSweeper(&fakeRecoverer{}, SweeperOptions{Lease: lease}).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if !lease.released {
		t.Fatal("lease not released on shutdown")
	}
}

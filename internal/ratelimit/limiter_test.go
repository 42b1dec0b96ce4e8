package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, capacity int, refill float64) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client, capacity, refill), mr
}

func TestLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 2, 1)
	fixed := time.UnixMilli(1_700_000_000_000)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "mail")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}
	d, err := l.Allow(ctx, "mail")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected third request to be rejected")
	}
	if d.RetryAfter != time.Second {
		t.Fatalf("RetryAfter = %s, want 1s", d.RetryAfter)
	}

	// Buckets are per queue.
	if d, _ := l.Allow(ctx, "reports"); !d.Allowed {
		t.Fatal("expected a different queue to have its own bucket")
	}
}

func TestLimiterRefill(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 1, 2)
	clock := time.UnixMilli(1_700_000_000_000)
	l.now = func() time.Time { return clock }

	if d, _ := l.Allow(ctx, "mail"); !d.Allowed {
		t.Fatal("expected first request allowed")
	}
	d, _ := l.Allow(ctx, "mail")
	if d.Allowed {
		t.Fatal("expected empty bucket to reject")
	}
	if d.RetryAfter != 500*time.Millisecond {
		t.Fatalf("RetryAfter = %s, want 500ms", d.RetryAfter)
	}

	clock = clock.Add(250 * time.Millisecond)
	d, _ = l.Allow(ctx, "mail")
	if d.Allowed {
		t.Fatal("half a token is not enough")
	}
	if d.Remaining != 0.5 {
		t.Fatalf("Remaining = %v, want 0.5", d.Remaining)
	}

	clock = clock.Add(250 * time.Millisecond)
	if d, _ := l.Allow(ctx, "mail"); !d.Allowed {
		t.Fatal("expected refilled token to be allowed")
	}
}

func TestLimiterSetsExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, 10, 1)
	if _, err := l.Allow(context.Background(), "mail"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ttl := mr.TTL(l.Key("mail")); ttl < 10*time.Second {
		t.Fatalf("TTL = %s, want at least the full refill time", ttl)
	}
}

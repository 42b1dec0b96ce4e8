package store

import (
	"testing"
	"time"

	"durable-queue/internal/models"
)

func TestCalculateBackoffDelay(t *testing.T) {
	cases := []struct {
		name     string
		backoff  models.Backoff
		attempts int
		want     time.Duration
	}{
		{"exponential second attempt", models.Backoff{Type: models.BackoffExponential, DelayMS: 1000}, 2, 2 * time.Second},
		{"exponential first attempt", models.Backoff{Type: models.BackoffExponential, DelayMS: 1000}, 1, time.Second},
		{"exponential zero attempts treated as first", models.Backoff{Type: models.BackoffExponential, DelayMS: 1000}, 0, time.Second},
		{"exponential capped", models.Backoff{Type: models.BackoffExponential, DelayMS: 1000, MaxDelayMS: 5000}, 10, 5 * time.Second},
		{"exponential default cap", models.Backoff{Type: models.BackoffExponential, DelayMS: 1000}, 20, 5 * time.Minute},
		{"exponential huge attempts", models.Backoff{Type: models.BackoffExponential, DelayMS: 1000}, 500, 5 * time.Minute},
		{"linear", models.Backoff{Type: models.BackoffLinear, DelayMS: 500}, 3, 1500 * time.Millisecond},
		{"linear capped", models.Backoff{Type: models.BackoffLinear, DelayMS: 500, MaxDelayMS: 1000}, 3, time.Second},
		{"fixed", models.Backoff{Type: models.BackoffFixed, DelayMS: 3000}, 1, 3 * time.Second},
		{"fixed ignores attempts", models.Backoff{Type: models.BackoffFixed, DelayMS: 3000}, 9, 3 * time.Second},
		{"fixed ignores cap", models.Backoff{Type: models.BackoffFixed, DelayMS: 3000, MaxDelayMS: 1000}, 2, 3 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalculateBackoffDelay(tc.backoff, tc.attempts); got != tc.want {
				t.Fatalf("CalculateBackoffDelay(%+v, %d) = %s, want %s", tc.backoff, tc.attempts, got, tc.want)
			}
		})
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"durable-queue/internal/models"
)

// SimulateType is the job type served by Simulate.
const SimulateType = "simulate"

type simulatePayload struct {
	DurationMS int64  `json:"duration_ms"`
	ShouldFail bool   `json:"should_fail"`
	Panic      bool   `json:"panic"`
	Message    string `json:"message"`
}

// Simulate is a handler for load and failure drills. The payload may ask it
// to sleep, fail or panic.
func Simulate(ctx context.Context, job models.Job) error {
	var p simulatePayload
	if len(job.Payload) > 0 {
		if err := job.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	if p.DurationMS > 0 {
		t := time.NewTimer(time.Duration(p.DurationMS) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if p.Panic {
		panic("simulated panic requested by payload.panic")
	}
	if p.ShouldFail {
		if p.Message != "" {
			return errors.New(p.Message)
		}
		return errors.New("simulated failure requested by payload.should_fail")
	}
	return nil
}

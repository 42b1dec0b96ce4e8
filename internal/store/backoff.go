package store

import (
	"math/bits"
	"time"

	"durable-queue/internal/models"
)

// CalculateBackoffDelay returns how long to wait before the next attempt,
// given the number of attempts already made. Exponential and linear delays
// are capped at MaxDelayMS (DefaultBackoffMaxDelayMS when unset).
func CalculateBackoffDelay(b models.Backoff, attempts int) time.Duration {
	delay := b.DelayMS
	if delay < 0 {
		delay = 0
	}
	maxDelay := b.MaxDelayMS
	if maxDelay <= 0 {
		maxDelay = models.DefaultBackoffMaxDelayMS
	}
	if attempts < 1 {
		attempts = 1
	}

	var ms int64
	switch b.Type {
	case models.BackoffFixed:
		ms = delay
	case models.BackoffLinear:
		ms = capped(mulSaturating(delay, int64(attempts)), maxDelay)
	default:
		shift := attempts - 1
		if delay != 0 && shift >= bits.LeadingZeros64(uint64(delay))-1 {
			ms = maxDelay
		} else {
			ms = capped(delay<<shift, maxDelay)
		}
	}
	return time.Duration(ms) * time.Millisecond
}

func mulSaturating(a, b int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > 1<<62 {
		return 1 << 62
	}
	return int64(lo)
}

func capped(v, limit int64) int64 {
	if v > limit {
		return limit
	}
	return v
}

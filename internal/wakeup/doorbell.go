// Package wakeup lets producers nudge idle workers through Redis lists so a
// newly enqueued job is picked up before the next poll.
package wakeup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Doorbell signals per-queue job availability. A ring is a hint only; the
// database stays the source of truth and workers still poll.
type Doorbell struct {
	client *redis.Client
	prefix string
	// maxPending bounds how many unconsumed rings a queue accumulates.
	maxPending int64
}

// NewDoorbell returns a doorbell using client.
func NewDoorbell(client *redis.Client) *Doorbell {
	return &Doorbell{client: client, prefix: "queue:wakeup:", maxPending: 64}
}

func (d *Doorbell) key(queue string) string {
	return d.prefix + queue
}

// Ring wakes at most one waiting worker on queue.
func (d *Doorbell) Ring(ctx context.Context, queue string) error {
	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, d.key(queue), time.Now().UnixMilli())
	pipe.LTrim(ctx, d.key(queue), 0, d.maxPending-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ring %s: %w", queue, err)
	}
	return nil
}

// Wait blocks until queue is rung or timeout elapses. It reports whether a
// ring was received.
func (d *Doorbell) Wait(ctx context.Context, queue string, timeout time.Duration) (bool, error) {
	if timeout < time.Second {
		// BLPOP has second granularity on older servers.
		timeout = time.Second
	}
	_, err := d.client.BLPop(ctx, timeout, d.key(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("wait %s: %w", queue, err)
	}
	return true, nil
}

// Pending returns the number of unconsumed rings for queue.
func (d *Doorbell) Pending(ctx context.Context, queue string) (int64, error) {
	return d.client.LLen(ctx, d.key(queue)).Result()
}

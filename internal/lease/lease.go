// Package lease provides a Redis-backed mutual exclusion lease so only one
// process runs a periodic task per tick.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a named lock held by a random token until it expires or is
// released. A Lease value is not safe for concurrent use.
type Lease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// New returns an unheld lease on key.
func New(client *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl}
}

// Key returns the Redis key of the lease.
func (l *Lease) Key() string { return l.key }

// Acquire tries to take the lease. It reports false without error when
// another holder owns it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Extend pushes the expiry forward if this lease still holds the key.
func (l *Lease) Extend(ctx context.Context) (bool, error) {
	if l.token == "" {
		return false, nil
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release drops the lease if this holder still owns it. Releasing an expired
// or foreign lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

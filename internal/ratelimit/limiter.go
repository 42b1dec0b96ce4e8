package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Remaining float64
	// RetryAfter is how long until one token is available again. Zero when
	// the request was allowed.
	RetryAfter time.Duration
}

// Limiter is a distributed token bucket per queue, stored as a Redis hash.
type Limiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewLimiter constructs a limiter. Buckets idle for longer than it takes to
// refill completely are expired by Redis.
func NewLimiter(client *redis.Client, capacity int, refillPerSecond float64) *Limiter {
	ttl := time.Minute
	if refillPerSecond > 0 {
		full := time.Duration(float64(capacity)/refillPerSecond*float64(time.Second)) + time.Second
		if full > ttl {
			ttl = full
		}
	}
	return &Limiter{
		client:   client,
		prefix:   "queue:ratelimit:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Key is the Redis key holding the bucket for queue.
func (l *Limiter) Key(queue string) string {
	return l.prefix + queue
}

// Allow consumes one token from the bucket for queue if one is available.
func (l *Limiter) Allow(ctx context.Context, queue string) (Decision, error) {
	now := l.now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{l.Key(queue)},
		l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", queue, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script result %T", queue, res)
	}
	allowed, _ := arr[0].(int64)
	tokens, err := parseTokens(arr[1])
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", queue, err)
	}

	d := Decision{Allowed: allowed == 1, Remaining: tokens}
	if !d.Allowed {
		d.RetryAfter = l.retryAfter(tokens)
	}
	return d, nil
}

func (l *Limiter) retryAfter(tokens float64) time.Duration {
	if l.refill <= 0 {
		return time.Duration(math.MaxInt64)
	}
	missing := 1 - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing / l.refill * float64(time.Second)))
}

// Lua numbers come back from Redis as integers, so the script returns the
// token count as a string to keep the fraction.
func parseTokens(v interface{}) (float64, error) {
	switch t := v.(type) {
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("parse tokens: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected tokens type %T", v)
	}
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)

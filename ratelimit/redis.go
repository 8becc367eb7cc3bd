package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBucketScript refills and spends tokens in one atomic step so that
// concurrent instances can never double-spend the shared quota. State lives
// in a hash of {tokens, last_refill} keyed per bucket; timestamps are in
// microseconds. Returns {1, 0} on success or {0, wait_ms} when the caller
// must wait for tokens to accrue.
var redisBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

local elapsed = now - last
if elapsed > 0 then
	tokens = math.min(capacity, tokens + (elapsed / 1000000) * rate)
	last = now
end

local allowed = 0
local wait = 0
if tokens >= cost then
	tokens = tokens - cost
	allowed = 1
else
	wait = math.ceil((cost - tokens) / rate * 1000)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_refill', last)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, wait}
`)

// RedisBucketConfig holds configuration for a Redis-backed bucket.
// Populate from environment variables in your application code.
type RedisBucketConfig struct {
	URL      string
	Password string
	DB       int

	// Key names the shared bucket. Defaults to "ratelimit:bucket".
	Key string
}

// RedisBucket is a token bucket whose state lives in Redis, shared by every
// process pointed at the same key. Refill and spend are atomic (a single Lua
// script), so the combined spend across instances never exceeds capacity.
//
// Arrival-order fairness is only per process: between instances, whichever
// retries first after a refill wins.
type RedisBucket struct {
	client   *redis.Client
	key      string
	capacity float64
	rate     float64
	ttl      time.Duration
}

// NewRedisBucket creates a Redis-backed bucket with the given capacity and
// refill period and verifies connectivity.
func NewRedisBucket(config RedisBucketConfig, capacity int, period time.Duration) (*RedisBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", period)
	}
	if config.Key == "" {
		config.Key = "ratelimit:bucket"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.URL,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBucket{
		client:   client,
		key:      config.Key,
		capacity: float64(capacity),
		rate:     float64(capacity) / period.Seconds(),
		// State older than two refill periods is equivalent to a full
		// bucket, so let it expire.
		ttl: 2 * period,
	}, nil
}

// Acquire spends cost tokens from the shared bucket, sleeping out the
// script-reported wait and retrying until the tokens accrue or ctx expires.
func (b *RedisBucket) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	if float64(cost) > b.capacity {
		return fmt.Errorf("cost %d exceeds bucket capacity %d: %w", cost, int(b.capacity), ErrExhausted)
	}

	for {
		now := time.Now().UnixMicro()
		res, err := redisBucketScript.Run(ctx, b.client, []string{b.key},
			b.capacity, b.rate, cost, now, b.ttl.Milliseconds()).Int64Slice()
		if err != nil {
			return fmt.Errorf("redis acquire failed: %w", err)
		}
		if len(res) != 2 {
			return fmt.Errorf("redis acquire returned unexpected result %v", res)
		}
		if res[0] == 1 {
			return nil
		}

		wait := time.Duration(res[1]) * time.Millisecond
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("would need %s for %d token(s): %w", wait, cost, ErrExhausted)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up waiting for %d token(s): %w", cost, ErrExhausted)
		}
	}
}

// Tokens reports the tokens currently recorded in Redis, after refill.
// Intended for monitoring; the value is stale the moment it returns.
func (b *RedisBucket) Tokens(ctx context.Context) (float64, error) {
	now := time.Now().UnixMicro()
	// Run the script with zero cost to fold in the pending refill.
	if _, err := redisBucketScript.Run(ctx, b.client, []string{b.key},
		b.capacity, b.rate, 0, now, b.ttl.Milliseconds()).Int64Slice(); err != nil {
		return 0, fmt.Errorf("redis tokens failed: %w", err)
	}
	tokens, err := b.client.HGet(ctx, b.key, "tokens").Float64()
	if err != nil {
		return 0, fmt.Errorf("redis tokens failed: %w", err)
	}
	return tokens, nil
}

// Close releases resources held by the Redis client.
func (b *RedisBucket) Close() error {
	return b.client.Close()
}

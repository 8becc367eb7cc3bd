package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func setupRedisBucket(t *testing.T, capacity int, period time.Duration) (*RedisBucket, func()) {
	t.Helper()

	config := RedisBucketConfig{
		URL: "localhost:6379",
		DB:  15,
		Key: "test:ratelimit:" + t.Name(),
	}

	bucket, err := NewRedisBucket(config, capacity, period)
	if err != nil {
		t.Skip("Redis not available:", err)
	}

	cleanup := func() {
		bucket.client.Del(context.Background(), config.Key)
		bucket.Close()
	}
	return bucket, cleanup
}

func TestRedisBucket_Acquire(t *testing.T) {
	bucket, cleanup := setupRedisBucket(t, 5, time.Minute)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := bucket.Acquire(ctx, 1); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}

	tokens, err := bucket.Tokens(ctx)
	if err != nil {
		t.Fatalf("Tokens() error = %v", err)
	}
	if tokens >= 1 {
		t.Errorf("Tokens() = %v, want < 1 after draining", tokens)
	}
}

func TestRedisBucket_Acquire_DeadlineExceeded(t *testing.T) {
	bucket, cleanup := setupRedisBucket(t, 1, time.Hour)
	defer cleanup()

	ctx := context.Background()
	if err := bucket.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := bucket.Acquire(ctx, 1); !errors.Is(err, ErrExhausted) {
		t.Errorf("Acquire() error = %v, want ErrExhausted", err)
	}
}

func TestRedisBucket_Acquire_WaitsForRefill(t *testing.T) {
	bucket, cleanup := setupRedisBucket(t, 2, 200*time.Millisecond)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := bucket.Acquire(ctx, 1); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}
	// The third token only exists after ~100ms of refill.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("three acquires took %s, want a refill wait", elapsed)
	}
}

func TestRedisBucket_QuotaSafety_Concurrent(t *testing.T) {
	const capacity = 10
	bucket, cleanup := setupRedisBucket(t, capacity, time.Hour)
	defer cleanup()

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			if err := bucket.Acquire(ctx, 1); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != capacity {
		t.Errorf("granted = %d, want exactly %d", got, capacity)
	}
}

func TestNewRedisBucket_InvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		period   time.Duration
	}{
		{name: "zero capacity", capacity: 0, period: time.Minute},
		{name: "zero period", capacity: 10, period: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisBucket(RedisBucketConfig{URL: "localhost:6379"}, tt.capacity, tt.period)
			if err == nil {
				t.Error("NewRedisBucket() error = nil, want error")
			}
		})
	}
}

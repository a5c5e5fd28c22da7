package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_Basic(t *testing.T) {
	// 1 token per 100ms, max 5 tokens in bucket
	rl := NewRateLimiter(100*time.Millisecond, 5)
	defer rl.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Failed to get token %d: %v", i+1, err)
		}
	}

	// Bucket drained, next call must wait for a refill
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Failed to get token after waiting: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 80*time.Millisecond {
		t.Errorf("Expected to wait at least 80ms, but waited %v", elapsed)
	}
}

func TestRateLimiter_TryAcquire(t *testing.T) {
	rl := NewRateLimiter(100*time.Millisecond, 2)
	defer rl.Close()

	if !rl.TryAcquire() {
		t.Error("Failed to acquire first token")
	}
	if !rl.TryAcquire() {
		t.Error("Failed to acquire second token")
	}

	if rl.TryAcquire() {
		t.Error("Should not have acquired 3rd token")
	}
}

func TestNewPooledRateLimiterFromRPS(t *testing.T) {
	prl := NewPooledRateLimiterFromRPS(10, 2)
	defer prl.Close()
	if prl.rate != 100*time.Millisecond {
		t.Errorf("10 RPS should map to 100ms per token, got %v", prl.rate)
	}

	// Non-positive RPS clamps to 1
	slow := NewPooledRateLimiterFromRPS(0, 1)
	defer slow.Close()
	if slow.rate != time.Second {
		t.Errorf("0 RPS should clamp to 1s per token, got %v", slow.rate)
	}
}

func TestPooledRateLimiter_SeparateBuckets(t *testing.T) {
	prl := NewPooledRateLimiter(100*time.Millisecond, 1)
	defer prl.Close()

	if !prl.TryAcquire("https://node-a") {
		t.Error("node-a first acquire should succeed")
	}
	if prl.TryAcquire("https://node-a") {
		t.Error("node-a second acquire should fail")
	}
	// node-b has its own bucket
	if !prl.TryAcquire("https://node-b") {
		t.Error("node-b first acquire should succeed")
	}
}

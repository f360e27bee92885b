package feed

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAdmitsWithinWindow(t *testing.T) {
	t.Parallel()

	limiter := newLimiter(2, 80*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("burst within limit should not block, took %v", elapsed)
	}
}

func TestLimiterBlocksWhenWindowFull(t *testing.T) {
	t.Parallel()

	limiter := newLimiter(2, 80*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("third acquire should wait out the window, took %v", elapsed)
	}
}

func TestLimiterHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	limiter := newLimiter(1, time.Minute, 0)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); err == nil {
		t.Fatalf("expected context deadline error")
	}
}

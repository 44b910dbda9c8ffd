package resilience

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 3, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Admit(ctx); err != nil {
			t.Fatalf("admission %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("admissions under the limit should not block, took %v", elapsed)
	}
	if got := l.InFlight(); got != 3 {
		t.Fatalf("expected 3 recorded timestamps, got %d", got)
	}
}

func TestLimiterBlocksOverLimit(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 2, 150*time.Millisecond)
	ctx := context.Background()

	l.Admit(ctx)
	l.Admit(ctx)

	// Third admission within the window must block until the oldest slot frees,
	// and never return an error.
	start := time.Now()
	if err := l.Admit(ctx); err != nil {
		t.Fatalf("blocked admission returned error: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 100*time.Millisecond {
		t.Fatalf("expected admission to wait for the window, waited only %v", elapsed)
	}
	if elapsed > 400*time.Millisecond {
		t.Fatalf("caller waited longer than one window beyond capacity: %v", elapsed)
	}
}

func TestLimiterContextCancellation(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 1, time.Minute)
	l.Admit(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Admit(ctx)
	if err == nil {
		t.Fatal("expected context error for cancelled wait")
	}
	if err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	l := NewSlidingWindowLimiter("test", 2, 50*time.Millisecond)
	ctx := context.Background()

	l.Admit(ctx)
	l.Admit(ctx)
	time.Sleep(70 * time.Millisecond)

	// Old timestamps left the window; admission is immediate again.
	start := time.Now()
	if err := l.Admit(ctx); err != nil {
		t.Fatalf("admission after window slide failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("expected immediate admission, took %v", elapsed)
	}
}

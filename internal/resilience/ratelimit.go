package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default limiter configuration, matching the gateway's 30 requests per minute cap.
const (
	DefaultRateLimit  = 30
	DefaultRateWindow = 60 * time.Second
)

// SlidingWindowLimiter bounds the outbound request rate over a rolling window.
// Admit blocks the caller until a slot frees; requests are never dropped.
type SlidingWindowLimiter struct {
	name   string
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time
}

// NewSlidingWindowLimiter creates a limiter admitting at most limit calls per window.
// Non-positive arguments fall back to the defaults.
func NewSlidingWindowLimiter(name string, limit int, window time.Duration) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &SlidingWindowLimiter{name: name, limit: limit, window: window}
}

// Admit blocks until the call fits inside the window, then records its timestamp.
// It returns early with ctx.Err() if the context is cancelled while waiting.
func (l *SlidingWindowLimiter) Admit(ctx context.Context) error {
	for {
		wait, ok := l.tryAdmit()
		if ok {
			return nil
		}

		slog.Warn("Rate limit reached, waiting for slot", "name", l.name, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAdmit prunes expired timestamps and either records the call or returns how
// long to wait until the oldest timestamp exits the window.
func (l *SlidingWindowLimiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	kept := l.stamps[:0]
	for _, t := range l.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.stamps = kept

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0, true
	}

	wait := l.window - now.Sub(l.stamps[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InFlight returns how many timestamps currently occupy the window.
func (l *SlidingWindowLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	n := 0
	for _, t := range l.stamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

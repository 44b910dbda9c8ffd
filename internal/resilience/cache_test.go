package resilience

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheHitBeforeTTL(t *testing.T) {
	c := NewCache[string, string](100 * time.Millisecond)
	c.Put("cpf", "patient data")

	time.Sleep(40 * time.Millisecond)
	if v, ok := c.Get("cpf"); !ok || v != "patient data" {
		t.Fatalf("expected hit before TTL, got (%q, %v)", v, ok)
	}
}

func TestCacheMissAfterTTL(t *testing.T) {
	c := NewCache[string, string](40 * time.Millisecond)
	c.Put("cpf", "patient data")

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("cpf"); ok {
		t.Fatal("expected miss after TTL")
	}
	// Expired entry was pruned by the read.
	if got := c.Len(); got != 0 {
		t.Fatalf("expected expired entry removed, len=%d", got)
	}
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	c := NewCache[string, int](time.Minute)
	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestCachePutResetsAge(t *testing.T) {
	c := NewCache[string, string](60 * time.Millisecond)
	c.Put("k", "v1")
	time.Sleep(40 * time.Millisecond)
	c.Put("k", "v2")
	time.Sleep(40 * time.Millisecond)

	if v, ok := c.Get("k"); !ok || v != "v2" {
		t.Fatalf("expected refreshed entry, got (%q, %v)", v, ok)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache[string, []string](time.Minute)
	c.Put("2025-01-10", []string{"08:00", "09:00"})
	c.Invalidate("2025-01-10")
	if _, ok := c.Get("2025-01-10"); ok {
		t.Fatal("expected miss after invalidation")
	}
}

func TestCachePeriodicCleanup(t *testing.T) {
	c := NewCache[string, int](10 * time.Millisecond)
	for i := 0; i < cleanupInterval-1; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	time.Sleep(20 * time.Millisecond)

	// The next Put crosses the cleanup interval and sweeps everything expired.
	c.Put("fresh", 1)
	if got := c.Len(); got != 1 {
		t.Fatalf("expected only the fresh entry after cleanup, len=%d", got)
	}
}

func TestCacheDistinctTTLsIndependent(t *testing.T) {
	patients := NewCache[string, string](80 * time.Millisecond)
	slots := NewCache[string, string](30 * time.Millisecond)
	patients.Put("k", "p")
	slots.Put("k", "s")

	time.Sleep(50 * time.Millisecond)
	if _, ok := patients.Get("k"); !ok {
		t.Error("patient cache should still hit")
	}
	if _, ok := slots.Get("k"); ok {
		t.Error("slot cache should have expired")
	}
}

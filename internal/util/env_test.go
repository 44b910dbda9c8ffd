package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{"", true, true},
		{"", false, false},
		{"garbage", true, true},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := ParseIntEnv("TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("TEST_INT", "not a number")
	if got := ParseIntEnv("TEST_INT", 7); got != 7 {
		t.Errorf("got %d, want default 7", got)
	}
	t.Setenv("TEST_INT", "")
	if got := ParseIntEnv("TEST_INT", 7); got != 7 {
		t.Errorf("got %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "150ms")
	if got := ParseDurationEnv("TEST_DUR", time.Second); got != 150*time.Millisecond {
		t.Errorf("got %v, want 150ms", got)
	}
	// Bare integers are treated as seconds.
	t.Setenv("TEST_DUR", "30")
	if got := ParseDurationEnv("TEST_DUR", time.Second); got != 30*time.Second {
		t.Errorf("got %v, want 30s", got)
	}
	t.Setenv("TEST_DUR", "bogus")
	if got := ParseDurationEnv("TEST_DUR", time.Second); got != time.Second {
		t.Errorf("got %v, want default 1s", got)
	}
}

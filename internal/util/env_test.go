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
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("BOTPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("BOTPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("BOTPIPE_TEST_INT", "42")
	if got := ParseIntEnv("BOTPIPE_TEST_INT", 1); got != 42 {
		t.Errorf("got %d", got)
	}
	t.Setenv("BOTPIPE_TEST_INT", "forty")
	if got := ParseIntEnv("BOTPIPE_TEST_INT", 7); got != 7 {
		t.Errorf("invalid value should use default, got %d", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("BOTPIPE_TEST_FLOAT", "0.25")
	if got := ParseFloatEnv("BOTPIPE_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("got %v", got)
	}
	t.Setenv("BOTPIPE_TEST_FLOAT", "")
	if got := ParseFloatEnv("BOTPIPE_TEST_FLOAT", 0.7); got != 0.7 {
		t.Errorf("empty value should use default, got %v", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"45", 45 * time.Second},
		{"1m30s", 90 * time.Second},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("BOTPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("BOTPIPE_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("BOTPIPE_TEST_STR", "")
	if got := GetEnv("BOTPIPE_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
	t.Setenv("BOTPIPE_TEST_STR", "set")
	if got := GetEnv("BOTPIPE_TEST_STR", "fallback"); got != "set" {
		t.Errorf("got %q", got)
	}
}

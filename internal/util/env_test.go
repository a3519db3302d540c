package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("PB_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("PB_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("PB_TEST_INT", " 25 ")
	if got := ParseIntEnv("PB_TEST_INT", 10); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
	t.Setenv("PB_TEST_INT", "ten")
	if got := ParseIntEnv("PB_TEST_INT", 10); got != 10 {
		t.Errorf("expected default for invalid value, got %d", got)
	}
	if got := ParseIntEnv("PB_TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("expected default for unset key, got %d", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("PB_TEST_FLOAT", "0.7")
	if got := ParseFloatEnv("PB_TEST_FLOAT", 0.2); got != 0.7 {
		t.Errorf("expected 0.7, got %v", got)
	}
	t.Setenv("PB_TEST_FLOAT", "warm")
	if got := ParseFloatEnv("PB_TEST_FLOAT", 0.2); got != 0.2 {
		t.Errorf("expected default for invalid value, got %v", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", time.Minute},
		{"60", 60 * time.Second},
		{"90s", 90 * time.Second},
		{"24h", 24 * time.Hour},
		{"-5", time.Minute},
		{"-5s", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("PB_TEST_DUR", tt.val)
		if got := ParseDurationEnv("PB_TEST_DUR", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("PB_TEST_A", "  ")
	t.Setenv("PB_TEST_B", "redis://cache:6379/0")
	if got := FirstEnv("PB_TEST_A", "PB_TEST_B"); got != "redis://cache:6379/0" {
		t.Errorf("expected fallback to second key, got %q", got)
	}
	if got := FirstEnv("PB_TEST_UNSET"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

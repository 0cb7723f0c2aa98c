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
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, tc := range tests {
		t.Setenv("TEST_BOOL_ENV", tc.value)
		if got := ParseBoolEnv("TEST_BOOL_ENV", tc.def); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		def   time.Duration
		want  time.Duration
	}{
		{"", time.Hour, time.Hour},
		{"24h", time.Hour, 24 * time.Hour},
		{"90m", time.Hour, 90 * time.Minute},
		{" 30s ", time.Hour, 30 * time.Second},
		{"not-a-duration", time.Hour, time.Hour},
	}
	for _, tc := range tests {
		t.Setenv("TEST_DURATION_ENV", tc.value)
		if got := ParseDurationEnv("TEST_DURATION_ENV", tc.def); got != tc.want {
			t.Errorf("ParseDurationEnv(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
}

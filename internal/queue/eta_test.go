package queue

import (
	"testing"
	"time"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-5 * time.Second, "0s"},
		{900 * time.Millisecond, "0s"},
		{45 * time.Second, "45s"},
		{45*time.Second + 700*time.Millisecond, "45s"},
		{60 * time.Second, "1m 0s"},
		{125 * time.Second, "2m 5s"},
		{3599 * time.Second, "59m 59s"},
		{time.Hour, "1h 0m"},
		{3725 * time.Second, "1h 2m"},
		{26 * time.Hour, "26h 0m"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.in); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

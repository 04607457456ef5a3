package resilience

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(fmt.Errorf("wrapped: %w", NewTransientError(errors.New("x"), 429))) {
		t.Error("expected 429 to be rate limited")
	}
	if IsRateLimited(NewTransientError(errors.New("x"), 503)) {
		t.Error("503 is not a rate limit")
	}
	if IsRateLimited(errors.New("plain")) {
		t.Error("plain error is not a rate limit")
	}
}

func TestRetryAfterHint(t *testing.T) {
	if _, ok := RetryAfterHint(NewTransientError(errors.New("x"), 429)); ok {
		t.Error("expected no hint when none was attached")
	}
	d, ok := RetryAfterHint(NewTransientError(errors.New("x"), 429).WithRetryAfter(3 * time.Second))
	if !ok || d != 3*time.Second {
		t.Errorf("expected 3s hint, got %v (ok=%v)", d, ok)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"empty", "", 0, false},
		{"seconds", "7", 7 * time.Second, true},
		{"fractional", "1.5", 1500 * time.Millisecond, true},
		{"zero", "0", 0, true},
		{"negative", "-3", 0, false},
		{"http date", now.Add(10 * time.Second).Format(timeFormatHTTP), 10 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(timeFormatHTTP), 0, true},
		{"garbage", "soon", 0, false},
		{"not a number", "NaN", 0, false},
		{"overflowing seconds", "1e12", time.Duration(math.MaxInt64), true},
		{"infinite", "+Inf", time.Duration(math.MaxInt64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

const timeFormatHTTP = "Mon, 02 Jan 2006 15:04:05 GMT"

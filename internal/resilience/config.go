package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig, starting from the
// rate-limit policy. Non-positive values keep the policy default.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs, maxJitterMs int) RetryConfig {
	cfg := RateLimitRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if maxJitterMs >= 0 {
		cfg.MaxJitter = time.Duration(maxJitterMs) * time.Millisecond
	}
	return cfg
}

package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

var validModes = map[string]bool{"auto": true, "per-day": true, "range": true}

// Validate checks the sections the given command needs.
func (c *Config) Validate(command string) error {
	var errs []string

	switch command {
	case "report", "score":
		errs = append(errs, c.validateUpstream()...)
		errs = append(errs, c.validateAggregation()...)
	case "serve":
		errs = append(errs, c.validateUpstream()...)
		errs = append(errs, c.validateAggregation()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", command)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateUpstream() []string {
	var errs []string
	u := c.Upstream
	if u.APIKey == "" {
		errs = append(errs, "upstream.api_key is required")
	}
	if u.BaseURL == "" {
		errs = append(errs, "upstream.base_url is required")
	}
	if u.TimeoutSecs <= 0 {
		errs = append(errs, "upstream.timeout_secs must be > 0")
	}
	if u.RateLimitRPS < 0 {
		errs = append(errs, "upstream.rate_limit_rps must be >= 0")
	}
	if u.MaxAttempts < 1 || u.MaxAttempts > 20 {
		errs = append(errs, "upstream.max_attempts must be between 1 and 20")
	}
	if u.InitialBackoffMs <= 0 || u.MaxBackoffMs < u.InitialBackoffMs {
		errs = append(errs, "upstream backoff must satisfy 0 < initial_backoff_ms <= max_backoff_ms")
	}
	if u.MaxJitterMs < 0 {
		errs = append(errs, "upstream.max_jitter_ms must be >= 0")
	}
	if u.PageCap < 0 {
		errs = append(errs, "upstream.page_cap must be >= 0")
	}
	return errs
}

func (c *Config) validateAggregation() []string {
	var errs []string
	a := c.Aggregation
	if !validModes[a.Mode] {
		errs = append(errs, fmt.Sprintf("aggregation.mode %q must be auto, per-day or range", a.Mode))
	}
	if a.RowBudget <= 0 {
		errs = append(errs, "aggregation.row_budget must be > 0")
	}
	if a.Concurrency < 1 || a.Concurrency > 16 {
		errs = append(errs, "aggregation.concurrency must be between 1 and 16")
	}
	if a.MaxDurationSecs < 0 {
		errs = append(errs, "aggregation.max_duration_secs must be >= 0")
	}
	return errs
}

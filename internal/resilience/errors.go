package resilience

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TransientError wraps an error that is safe to retry (e.g., 429).
type TransientError struct {
	Err        error
	StatusCode int

	// RetryAfter is the server-provided wait hint. Only meaningful when
	// HasRetryAfter is set, since a zero hint means "retry now".
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// WithRetryAfter attaches a server wait hint to the error.
func (e *TransientError) WithRetryAfter(d time.Duration) *TransientError {
	e.RetryAfter = d
	e.HasRetryAfter = true
	return e
}

// IsRateLimited reports whether err carries an HTTP 429 TransientError.
func IsRateLimited(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests
}

// RetryAfterHint returns the server wait hint carried by err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.HasRetryAfter {
		return te.RetryAfter, true
	}
	return 0, false
}

// maxHintSeconds is the largest hint representable as a time.Duration.
const maxHintSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseRetryAfter parses a Retry-After header value, which is either a
// number of seconds or an HTTP date. Dates in the past yield a zero wait.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) {
			return 0, false
		}
		if secs >= maxHintSeconds {
			return time.Duration(math.MaxInt64), true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Package reporting provides a client for the cursor-paginated email
// reporting API: flow performance reports, flow and message listings, and
// the account/metric lookups those reports depend on.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/flow-analytics/internal/resilience"
)

const (
	defaultBaseURL  = "https://a.klaviyo.com/api"
	defaultRevision = "2024-10-15"
)

var (
	// ErrRateLimited is returned when 429 responses outlast the retry budget.
	ErrRateLimited = eris.New("reporting: rate limited")
	// ErrUpstreamUnavailable is returned for any other failed call. It is
	// never retried.
	ErrUpstreamUnavailable = eris.New("reporting: upstream unavailable")
	// ErrMetricNotFound is returned when a metric name has no match.
	ErrMetricNotFound = eris.New("reporting: metric not found")
)

// APIError describes a failed upstream call. StatusCode is 0 for transport
// and decode failures.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("reporting: %s: %s", e.Endpoint, e.Body)
	}
	return fmt.Sprintf("reporting: %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return ErrUpstreamUnavailable
}

// Client defines the reporting API operations.
type Client interface {
	// FetchAll lazily follows next links from initialURL, yielding each page
	// until the cursor is exhausted or maxPages (when > 0) pages were read.
	FetchAll(ctx context.Context, initialURL string, headers http.Header, maxPages int) iter.Seq2[Page, error]
	// ListFlows returns every flow in the account.
	ListFlows(ctx context.Context) ([]Flow, error)
	// FlowMessages returns the message records of one flow.
	FlowMessages(ctx context.Context, flowID string) ([]Message, error)
	// FlowMessage returns a single message record.
	FlowMessage(ctx context.Context, messageID string) (*Message, error)
	// FlowReport returns the report rows for one timeframe.
	FlowReport(ctx context.Context, q ReportQuery) ([]ReportRow, error)
	// AccountTimezone returns the account's reporting timezone.
	AccountTimezone(ctx context.Context) (*time.Location, error)
	// MetricID resolves a metric name (e.g. "Placed Order") to its id.
	MetricID(ctx context.Context, name string) (string, error)
}

// Option configures the reporting client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithRevision sets the API revision header.
func WithRevision(rev string) Option {
	return func(c *httpClient) {
		if rev != "" {
			c.revision = rev
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces requests to rps per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithRetry overrides the 429 retry policy. ShouldRetry is always forced to
// the rate-limit check so non-429 failures stay fatal.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		cfg.ShouldRetry = resilience.IsRateLimited
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	revision string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	now      func() time.Time
}

// NewClient creates a new reporting client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		revision: defaultRevision,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(3, 3),
		retry:   resilience.RateLimitRetryConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchAll(ctx context.Context, initialURL string, headers http.Header, maxPages int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		next := initialURL
		for pages := 0; next != ""; pages++ {
			if maxPages > 0 && pages >= maxPages {
				zap.L().Warn("reporting: page cap reached",
					zap.String("url", initialURL),
					zap.Int("max_pages", maxPages),
				)
				return
			}

			page, err := c.fetchPage(ctx, next, headers)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}

			next, err = resolveNext(next, page.Links.Next)
			if err != nil {
				yield(Page{}, err)
				return
			}
		}
	}
}

// fetchPage performs one page GET, retrying only on 429.
func (c *httpClient) fetchPage(ctx context.Context, rawURL string, headers http.Header) (Page, error) {
	endpoint := endpointLabel(rawURL)

	logRetry := resilience.RetryLogger("reporting", endpoint)
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		upstreamThrottled.WithLabelValues(endpoint).Inc()
		logRetry(attempt, err, delay)
	}

	page, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (Page, error) {
		return c.doPage(ctx, rawURL, endpoint, headers)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, eris.Wrapf(err, "reporting: %s cancelled", endpoint)
		}
		return Page{}, eris.Wrapf(err, "reporting: fetch %s", endpoint)
	}
	return page, nil
}

func (c *httpClient) doPage(ctx context.Context, rawURL, endpoint string, headers http.Header) (Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Page{}, eris.Wrap(err, "reporting: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, eris.Wrap(err, "reporting: create request")
	}
	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("revision", c.revision)
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		upstreamRequests.WithLabelValues(endpoint, "error").Inc()
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, &APIError{Endpoint: endpoint, Body: err.Error()}
	}
	defer resp.Body.Close() //nolint:errcheck

	upstreamRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: "read body: " + err.Error()}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		te := resilience.NewTransientError(&APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: truncate(body)}, resp.StatusCode)
		if d, ok := resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
			te = te.WithRetryAfter(d)
		}
		return Page{}, te
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: truncate(body)}
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, &APIError{Endpoint: endpoint, Body: "decode page: " + err.Error()}
	}
	return page, nil
}

// resolveNext resolves a possibly relative next link against the current URL.
func resolveNext(current, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", eris.Wrapf(err, "reporting: parse url %s", current)
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", eris.Wrapf(err, "reporting: parse next link %s", next)
	}
	return base.ResolveReference(ref).String(), nil
}

// knownEndpoints bounds the endpoint label cardinality.
var knownEndpoints = map[string]bool{
	"flows":         true,
	"flow-messages": true,
	"flow-report":   true,
	"accounts":      true,
	"metrics":       true,
}

// endpointLabel reduces a URL to the last path segment naming a known
// endpoint, skipping ids.
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if knownEndpoints[segs[i]] {
			return segs[i]
		}
	}
	return "other"
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}

package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/flow-analytics/internal/resilience"
)

func newTestClient(srvURL string) Client {
	return NewClient("test-key",
		WithBaseURL(srvURL),
		WithRateLimit(0),
		WithRetry(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		}),
	)
}

func writePage(t *testing.T, w http.ResponseWriter, data any, next string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(Page{Data: raw, Links: Links{Next: next}}))
}

func TestFetchAll_FollowsNextLinks(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Klaviyo-API-Key test-key", r.Header.Get("Authorization"))
		assert.Equal(t, defaultRevision, r.Header.Get("revision"))
		switch r.URL.Query().Get("page") {
		case "":
			writePage(t, w, []int{1, 2}, "/items?page=2") // relative
		case "2":
			writePage(t, w, []int{3}, srvURL+"/items?page=3") // absolute
		case "3":
			writePage(t, w, []int{4}, "")
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(srv.URL)
	var pages int
	var values []int
	for page, err := range c.FetchAll(context.Background(), srv.URL+"/items", nil, 0) {
		require.NoError(t, err)
		pages++
		var vs []int
		require.NoError(t, json.Unmarshal(page.Data, &vs))
		values = append(values, vs...)
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []int{1, 2, 3, 4}, values)
}

func TestFetchAll_PageCap(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writePage(t, w, []int{1}, "/items?more=1")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var pages int
	for _, err := range c.FetchAll(context.Background(), srv.URL+"/items", nil, 2) {
		require.NoError(t, err)
		pages++
	}
	assert.Equal(t, 2, pages)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchAll_IsLazy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writePage(t, w, []int{1}, "/items?more=1")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for _, err := range c.FetchAll(context.Background(), srv.URL+"/items", nil, 0) {
		require.NoError(t, err)
		break
	}
	assert.Equal(t, int32(1), calls.Load(), "breaking out of the loop must stop fetching")
}

func TestFetchAll_ExtraHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		writePage(t, w, []int{}, "")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for _, err := range c.FetchAll(context.Background(), srv.URL+"/items", http.Header{"X-Test": {"yes"}}, 0) {
		require.NoError(t, err)
	}
}

func TestFetchAll_RetriesOn429WithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writePage(t, w, []int{7}, "")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var got []int
	for page, err := range c.FetchAll(context.Background(), srv.URL+"/items", nil, 0) {
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(page.Data, &got))
	}
	assert.Equal(t, []int{7}, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchAll_RetryLogsAndCapsHugeRetryAfter(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1e12")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writePage(t, w, []int{1}, "")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for _, err := range c.FetchAll(context.Background(), srv.URL+"/flows", nil, 0) {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())

	entries := logs.FilterMessage("retrying operation").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "reporting", fields["service"])
	assert.Equal(t, "flows", fields["operation"])
	assert.Equal(t, 5*time.Millisecond, fields["delay"])
}

func TestFetchAll_RateLimitedAfterExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var gotErr error
	for _, err := range c.FetchAll(context.Background(), srv.URL+"/flows", nil, 0) {
		gotErr = err
	}
	require.Error(t, gotErr)
	assert.True(t, errors.Is(gotErr, ErrRateLimited), "got %v", gotErr)
	assert.False(t, errors.Is(gotErr, ErrUpstreamUnavailable))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchAll_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ListFlows(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable), "got %v", err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "flows", apiErr.Endpoint)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchAll_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ListFlows(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestListFlowsAndMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flows":
			writePage(t, w, []Flow{{ID: "F1", Name: "Welcome", Status: "live"}}, "")
		case "/flows/F1/flow-messages":
			writePage(t, w, []Message{
				{ID: "M1", Name: "Email 1", Channel: "email", ActionID: "A1"},
				{ID: "M2", Name: "SMS 1", Channel: "sms", FlowID: "F1"},
			}, "")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	flows, err := c.ListFlows(context.Background())
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "Welcome", flows[0].Name)

	msgs, err := c.FlowMessages(context.Background(), "F1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "F1", msgs[0].FlowID, "flow id is filled from the request")
	assert.Equal(t, "A1", msgs[0].ActionID)
}

func TestFlowMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/flow-messages/M9", r.URL.Path)
		writePage(t, w, Message{ID: "M9", Name: "Win-back", Channel: "email", FlowID: "F2"}, "")
	}))
	defer srv.Close()

	msg, err := newTestClient(srv.URL).FlowMessage(context.Background(), "M9")
	require.NoError(t, err)
	assert.Equal(t, "Win-back", msg.Name)
	assert.Equal(t, "F2", msg.FlowID)
}

func TestFlowReport_QueryParameters(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/flow-report", r.URL.Path)
		assert.Equal(t, start.Format(time.RFC3339), q.Get("start"))
		assert.Equal(t, end.Format(time.RFC3339), q.Get("end"))
		assert.Equal(t, "MET1", q.Get("conversion_metric_id"))
		assert.Equal(t, "F1,F2", q.Get("flow_ids"))
		assert.Equal(t, "flow_id,flow_message_id,send_channel", q.Get("group_by"))
		writePage(t, w, []ReportRow{{FlowID: "F1", ActionID: "A1", Delivered: 100, ConversionValue: 42.5}}, "")
	}))
	defer srv.Close()

	rows, err := newTestClient(srv.URL).FlowReport(context.Background(), ReportQuery{
		Start:              start,
		End:                end,
		ConversionMetricID: "MET1",
		FlowIDs:            []string{"F1", "F2"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(100), rows[0].Delivered)
	assert.InDelta(t, 42.5, rows[0].ConversionValue, 0.001)
}

func TestFlowReport_RejectsEmptyWindow(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	now := time.Now()
	_, err := c.FlowReport(context.Background(), ReportQuery{Start: now, End: now})
	require.Error(t, err)
}

func TestAccountTimezone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, []Account{{ID: "acct", Timezone: "America/New_York"}}, "")
	}))
	defer srv.Close()

	loc, err := newTestClient(srv.URL).AccountTimezone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestMetricID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, []Metric{{ID: "X1", Name: "Opened Email"}, {ID: "PO", Name: "Placed Order"}}, "")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	id, err := c.MetricID(context.Background(), "placed order")
	require.NoError(t, err)
	assert.Equal(t, "PO", id)

	_, err = c.MetricID(context.Background(), "Viewed Product")
	assert.True(t, errors.Is(err, ErrMetricNotFound))
}

func TestEndpointLabel(t *testing.T) {
	tests := map[string]string{
		"https://x/api/flows":                      "flows",
		"https://x/api/flows/AbCdEf/flow-messages": "flow-messages",
		"https://x/api/flow-messages/QwErTy":       "flow-messages",
		"https://x/api/flow-report?start=1":        "flow-report",
		"https://x/api/unknown/thing":              "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, endpointLabel(in), in)
	}
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	short := []byte(`{"detail":"Trop de requêtes"}`)
	assert.Equal(t, string(short), truncate(short))

	body := []byte(strings.Repeat("a", 511) + "é" + strings.Repeat("b", 10))
	got := truncate(body)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 511)+"...", got)
}

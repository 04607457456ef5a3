package aggregate

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/flow-analytics/internal/model"
	"github.com/sells-group/flow-analytics/pkg/reporting"
)

type fakeClient struct {
	flows       []reporting.Flow
	messages    []reporting.Message
	rows        []reporting.ReportRow
	metricErr   error
	metricCalls int
	queries     []reporting.ReportQuery
}

func (f *fakeClient) FetchAll(context.Context, string, http.Header, int) iter.Seq2[reporting.Page, error] {
	return func(func(reporting.Page, error) bool) {}
}

func (f *fakeClient) ListFlows(context.Context) ([]reporting.Flow, error) { return f.flows, nil }

func (f *fakeClient) FlowMessages(context.Context, string) ([]reporting.Message, error) {
	return f.messages, nil
}

func (f *fakeClient) FlowMessage(_ context.Context, id string) (*reporting.Message, error) {
	return &reporting.Message{ID: id, Name: "Single", Channel: "EMAIL"}, nil
}

func (f *fakeClient) FlowReport(_ context.Context, q reporting.ReportQuery) ([]reporting.ReportRow, error) {
	f.queries = append(f.queries, q)
	return f.rows, nil
}

func (f *fakeClient) AccountTimezone(context.Context) (*time.Location, error) { return time.UTC, nil }

func (f *fakeClient) MetricID(context.Context, string) (string, error) {
	f.metricCalls++
	if f.metricErr != nil {
		return "", f.metricErr
	}
	return "MET1", nil
}

func TestClientSource_Flows(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{flows: []reporting.Flow{
		{ID: "1", Status: "live"},
		{ID: "2", Status: "Manual"},
		{ID: "3", Status: "draft"},
		{ID: "4", Status: "archived"},
		{ID: "5", Status: "Paused"},
	}}
	flows, err := NewClientSource(fc, "", 0).Flows(context.Background())
	require.NoError(t, err)
	want := []model.FlowStatus{
		model.FlowStatusLive, model.FlowStatusLive, model.FlowStatusDraft, model.FlowStatusArchived, "paused",
	}
	for i, f := range flows {
		assert.Equal(t, want[i], f.Status, f.ID)
	}
}

func TestClientSource_FlowMessagesAssignsPositions(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{messages: []reporting.Message{
		{ID: "a", Channel: "Email", FlowID: "F"},
		{ID: "b", Channel: "sms", FlowID: "F", Position: 7},
	}}
	msgs, err := NewClientSource(fc, "", 0).FlowMessages(context.Background(), "F")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Position)
	assert.Equal(t, "email", msgs[0].Channel)
	assert.Equal(t, 7, msgs[1].Position)

	m, err := NewClientSource(fc, "", 0).FlowMessage(context.Background(), "z")
	require.NoError(t, err)
	assert.Equal(t, "email", m.Channel)
}

func TestClientSource_ReportResolvesMetricOnce(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{rows: []reporting.ReportRow{{FlowID: "F", ActionID: "A", Delivered: 9, ConversionValue: 1.5, BounceRate: 0.01}}}
	src := NewClientSource(fc, "Placed Order", 4)
	w := Window{Start: day("2026-01-01"), End: day("2026-01-02")}

	for range 2 {
		rows, err := src.Report(context.Background(), w, []string{"F"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(9), rows[0].Delivered)
		assert.InDelta(t, 0.01, rows[0].BounceRate, 1e-12)
	}
	assert.Equal(t, 1, fc.metricCalls)
	require.Len(t, fc.queries, 2)
	assert.Equal(t, "MET1", fc.queries[0].ConversionMetricID)
	assert.Equal(t, 4, fc.queries[0].MaxPages)
	assert.Equal(t, []string{"F"}, fc.queries[0].FlowIDs)
	assert.Equal(t, w.End, fc.queries[0].End)
}

func TestClientSource_MetricLookupFailure(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{metricErr: reporting.ErrMetricNotFound}
	_, err := NewClientSource(fc, "Nope", 0).Report(context.Background(), Window{Start: day("2026-01-01"), End: day("2026-01-02")}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reporting.ErrMetricNotFound))
	assert.Empty(t, fc.queries)
}

package aggregate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flow-analytics/internal/model"
	"github.com/sells-group/flow-analytics/pkg/reporting"
)

// Window is one scoped report call. End is exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Source is the upstream the orchestrator reads from.
type Source interface {
	Flows(ctx context.Context) ([]model.Flow, error)
	FlowMessages(ctx context.Context, flowID string) ([]model.FlowMessage, error)
	FlowMessage(ctx context.Context, messageID string) (model.FlowMessage, error)
	Report(ctx context.Context, w Window, flowIDs []string) ([]model.ReportRow, error)
	Timezone(ctx context.Context) (*time.Location, error)
}

// ClientSource adapts a reporting.Client to Source. The conversion metric id
// is looked up once on first use.
type ClientSource struct {
	client           reporting.Client
	conversionMetric string
	pageCap          int

	mu       sync.Mutex
	metricID string
}

// NewClientSource creates a Source over client. An empty conversionMetric
// omits the conversion metric from report calls.
func NewClientSource(client reporting.Client, conversionMetric string, pageCap int) *ClientSource {
	return &ClientSource{
		client:           client,
		conversionMetric: conversionMetric,
		pageCap:          pageCap,
	}
}

func (s *ClientSource) Flows(ctx context.Context) ([]model.Flow, error) {
	flows, err := s.client.ListFlows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Flow, 0, len(flows))
	for _, f := range flows {
		out = append(out, model.Flow{ID: f.ID, Name: f.Name, Status: flowStatus(f.Status)})
	}
	return out, nil
}

func (s *ClientSource) FlowMessages(ctx context.Context, flowID string) ([]model.FlowMessage, error) {
	msgs, err := s.client.FlowMessages(ctx, flowID)
	if err != nil {
		return nil, err
	}
	out := make([]model.FlowMessage, 0, len(msgs))
	for i, m := range msgs {
		fm := toFlowMessage(m)
		if fm.Position == 0 {
			fm.Position = i + 1
		}
		out = append(out, fm)
	}
	return out, nil
}

func (s *ClientSource) FlowMessage(ctx context.Context, messageID string) (model.FlowMessage, error) {
	m, err := s.client.FlowMessage(ctx, messageID)
	if err != nil {
		return model.FlowMessage{}, err
	}
	return toFlowMessage(*m), nil
}

func (s *ClientSource) Report(ctx context.Context, w Window, flowIDs []string) ([]model.ReportRow, error) {
	metricID, err := s.conversionMetricID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.client.FlowReport(ctx, reporting.ReportQuery{
		Start:              w.Start,
		End:                w.End,
		ConversionMetricID: metricID,
		FlowIDs:            flowIDs,
		MaxPages:           s.pageCap,
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.ReportRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ReportRow{
			FlowID:            r.FlowID,
			MessageID:         r.MessageID,
			ActionID:          r.ActionID,
			Channel:           r.Channel,
			Delivered:         r.Delivered,
			OpensUnique:       r.OpensUnique,
			ClicksUnique:      r.ClicksUnique,
			ConversionUniques: r.ConversionUniques,
			ConversionValue:   r.ConversionValue,
			UnsubscribeRate:   r.UnsubscribeRate,
			SpamComplaintRate: r.SpamComplaintRate,
			BounceRate:        r.BounceRate,
		})
	}
	return out, nil
}

func (s *ClientSource) Timezone(ctx context.Context) (*time.Location, error) {
	return s.client.AccountTimezone(ctx)
}

func (s *ClientSource) conversionMetricID(ctx context.Context) (string, error) {
	if s.conversionMetric == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricID != "" {
		return s.metricID, nil
	}
	id, err := s.client.MetricID(ctx, s.conversionMetric)
	if err != nil {
		return "", eris.Wrapf(err, "aggregate: resolve conversion metric %q", s.conversionMetric)
	}
	s.metricID = id
	return id, nil
}

func toFlowMessage(m reporting.Message) model.FlowMessage {
	return model.FlowMessage{
		ID:       m.ID,
		FlowID:   m.FlowID,
		Position: m.Position,
		Name:     m.Name,
		Channel:  strings.ToLower(m.Channel),
		ActionID: m.ActionID,
	}
}

// flowStatus maps upstream statuses. Manually triggered flows send like live ones.
func flowStatus(s string) model.FlowStatus {
	switch strings.ToLower(s) {
	case "live", "manual":
		return model.FlowStatusLive
	case "draft":
		return model.FlowStatusDraft
	case "archived":
		return model.FlowStatusArchived
	default:
		return model.FlowStatus(strings.ToLower(s))
	}
}

package reporting

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// collect drains every page of rawURL, decoding each page's data array into T.
func collect[T any](ctx context.Context, c *httpClient, rawURL string, maxPages int) ([]T, error) {
	var all []T
	for page, err := range c.FetchAll(ctx, rawURL, nil, maxPages) {
		if err != nil {
			return nil, err
		}
		if len(page.Data) == 0 || string(page.Data) == "null" {
			continue
		}
		var items []T
		if err := json.Unmarshal(page.Data, &items); err != nil {
			return nil, eris.Wrap(&APIError{Endpoint: endpointLabel(rawURL), Body: "decode data: " + err.Error()}, "reporting: collect")
		}
		all = append(all, items...)
	}
	return all, nil
}

func (c *httpClient) ListFlows(ctx context.Context) ([]Flow, error) {
	flows, err := collect[Flow](ctx, c, c.baseURL+"/flows", 0)
	if err != nil {
		return nil, eris.Wrap(err, "reporting: list flows")
	}
	return flows, nil
}

func (c *httpClient) FlowMessages(ctx context.Context, flowID string) ([]Message, error) {
	u := c.baseURL + "/flows/" + url.PathEscape(flowID) + "/flow-messages"
	msgs, err := collect[Message](ctx, c, u, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "reporting: list messages for flow %s", flowID)
	}
	for i := range msgs {
		if msgs[i].FlowID == "" {
			msgs[i].FlowID = flowID
		}
	}
	return msgs, nil
}

func (c *httpClient) FlowMessage(ctx context.Context, messageID string) (*Message, error) {
	u := c.baseURL + "/flow-messages/" + url.PathEscape(messageID)
	for page, err := range c.FetchAll(ctx, u, nil, 1) {
		if err != nil {
			return nil, eris.Wrapf(err, "reporting: get message %s", messageID)
		}
		var msg Message
		if err := json.Unmarshal(page.Data, &msg); err != nil {
			return nil, eris.Wrap(&APIError{Endpoint: "flow-messages", Body: "decode message: " + err.Error()}, "reporting: get message")
		}
		return &msg, nil
	}
	return nil, eris.Wrapf(&APIError{Endpoint: "flow-messages", Body: "empty response"}, "reporting: get message %s", messageID)
}

func (c *httpClient) FlowReport(ctx context.Context, q ReportQuery) ([]ReportRow, error) {
	if !q.End.After(q.Start) {
		return nil, eris.Errorf("reporting: report window end %s is not after start %s", q.End, q.Start)
	}
	v := url.Values{}
	v.Set("start", q.Start.Format(time.RFC3339))
	v.Set("end", q.End.Format(time.RFC3339))
	if q.ConversionMetricID != "" {
		v.Set("conversion_metric_id", q.ConversionMetricID)
	}
	if len(q.FlowIDs) > 0 {
		v.Set("flow_ids", strings.Join(q.FlowIDs, ","))
	}
	groupBy := q.GroupBy
	if len(groupBy) == 0 {
		groupBy = []string{"flow_id", "flow_message_id", "send_channel"}
	}
	v.Set("group_by", strings.Join(groupBy, ","))

	rows, err := collect[ReportRow](ctx, c, c.baseURL+"/flow-report?"+v.Encode(), q.MaxPages)
	if err != nil {
		return nil, eris.Wrapf(err, "reporting: flow report %s..%s", q.Start.Format(time.DateOnly), q.End.Format(time.DateOnly))
	}
	return rows, nil
}

func (c *httpClient) AccountTimezone(ctx context.Context) (*time.Location, error) {
	accounts, err := collect[Account](ctx, c, c.baseURL+"/accounts", 1)
	if err != nil {
		return nil, eris.Wrap(err, "reporting: get account")
	}
	if len(accounts) == 0 || accounts[0].Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(accounts[0].Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "reporting: load timezone %q", accounts[0].Timezone)
	}
	return loc, nil
}

func (c *httpClient) MetricID(ctx context.Context, name string) (string, error) {
	metrics, err := collect[Metric](ctx, c, c.baseURL+"/metrics", 0)
	if err != nil {
		return "", eris.Wrap(err, "reporting: list metrics")
	}
	for _, m := range metrics {
		if strings.EqualFold(strings.TrimSpace(m.Name), strings.TrimSpace(name)) {
			return m.ID, nil
		}
	}
	return "", eris.Wrapf(ErrMetricNotFound, "reporting: metric %q", name)
}

package reporting

import (
	"encoding/json"
	"time"
)

// Page is one page of a cursor-paginated response.
type Page struct {
	Data  json.RawMessage `json:"data"`
	Links Links           `json:"links"`
}

// Links carries the pagination cursor.
type Links struct {
	Next string `json:"next,omitempty"`
}

// Flow is a flow as listed by the upstream API.
type Flow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Message is a flow message record. ActionID is the secondary identifier the
// reporting endpoint keys rows by; it is empty for some message kinds.
type Message struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Channel  string `json:"channel"`
	FlowID   string `json:"flow_id"`
	ActionID string `json:"action_id,omitempty"`
	Position int    `json:"position,omitempty"`
}

// ReportRow is one raw row of the flow performance report.
type ReportRow struct {
	FlowID            string  `json:"flow_id"`
	MessageID         string  `json:"flow_message_id,omitempty"`
	ActionID          string  `json:"action_id,omitempty"`
	Channel           string  `json:"send_channel,omitempty"`
	Delivered         int64   `json:"delivered"`
	OpensUnique       int64   `json:"opens_unique"`
	ClicksUnique      int64   `json:"clicks_unique"`
	ConversionUniques int64   `json:"conversion_uniques"`
	ConversionValue   float64 `json:"conversion_value"`
	UnsubscribeRate   float64 `json:"unsubscribe_rate"`
	SpamComplaintRate float64 `json:"spam_complaint_rate"`
	BounceRate        float64 `json:"bounce_rate"`
}

// ReportQuery scopes one flow report call. End is exclusive.
type ReportQuery struct {
	Start              time.Time
	End                time.Time
	ConversionMetricID string
	FlowIDs            []string
	GroupBy            []string
	MaxPages           int
}

// Account holds the account-level settings this service reads.
type Account struct {
	ID       string `json:"id"`
	Timezone string `json:"timezone"`
}

// Metric is a named event metric.
type Metric struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

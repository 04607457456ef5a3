// Package model defines the flow analytics domain types shared by the
// aggregation and scoring packages.
package model

// FlowStatus is the lifecycle state of a flow.
type FlowStatus string

const (
	FlowStatusLive     FlowStatus = "live"
	FlowStatusDraft    FlowStatus = "draft"
	FlowStatusArchived FlowStatus = "archived"
)

// ChannelEmail is the only send channel in scope for reporting.
const ChannelEmail = "email"

// Flow is a multi-step automated email sequence.
type Flow struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status FlowStatus `json:"status"`
}

// IsLive reports whether the flow is actively sending.
func (f Flow) IsLive() bool {
	return f.Status == FlowStatusLive
}

// FlowMessage is one step of a flow. Position is 1-based.
type FlowMessage struct {
	ID       string `json:"id"`
	FlowID   string `json:"flow_id"`
	Position int    `json:"position"`
	Name     string `json:"name"`
	Channel  string `json:"channel"`
	ActionID string `json:"action_id,omitempty"`
}

// ReportRow holds the raw metrics for one (timeframe, flow, message-or-action)
// tuple as returned by the reporting endpoint. Rates are fractions.
type ReportRow struct {
	FlowID            string
	MessageID         string
	ActionID          string
	Channel           string
	Delivered         int64
	OpensUnique       int64
	ClicksUnique      int64
	ConversionUniques int64
	ConversionValue   float64
	UnsubscribeRate   float64
	SpamComplaintRate float64
	BounceRate        float64
}

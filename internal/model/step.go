package model

// StepMetrics holds one flow step's totals over the requested window.
// Unsubscribes, Bounces and Spam are estimated from upstream rates and
// may be fractional.
type StepMetrics struct {
	FlowID      string `json:"flow_id"`
	FlowName    string `json:"flow_name"`
	MessageID   string `json:"flow_message_id"`
	MessageName string `json:"flow_message_name"`
	Position    int    `json:"position"`

	EmailsSent   int64   `json:"emails_sent"`
	Revenue      float64 `json:"revenue"`
	Opens        int64   `json:"opens"`
	Clicks       int64   `json:"clicks"`
	Conversions  int64   `json:"conversions"`
	Unsubscribes float64 `json:"unsubscribes"`
	Bounces      float64 `json:"bounces"`
	Spam         float64 `json:"spam"`

	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	UnsubRate       float64 `json:"unsub_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	SpamRate        float64 `json:"spam_rate"`
	ConversionRate  float64 `json:"conversion_rate"`
	RevenuePerEmail float64 `json:"revenue_per_email"`
}

// DeriveRates fills the rate fields from the totals.
func (s *StepMetrics) DeriveRates() {
	s.OpenRate = ratio(float64(s.Opens), s.EmailsSent)
	s.ClickRate = ratio(float64(s.Clicks), s.EmailsSent)
	s.UnsubRate = ratio(s.Unsubscribes, s.EmailsSent)
	s.BounceRate = ratio(s.Bounces, s.EmailsSent)
	s.SpamRate = ratio(s.Spam, s.EmailsSent)
	s.ConversionRate = ratio(float64(s.Conversions), s.EmailsSent)
	s.RevenuePerEmail = ratio(s.Revenue, s.EmailsSent)
}

// Action is the recommendation attached to a scored step.
type Action string

const (
	ActionScale   Action = "scale"
	ActionKeep    Action = "keep"
	ActionImprove Action = "improve"
	ActionPause   Action = "pause"
)

// Pillars is the per-pillar breakdown of a step score.
type Pillars struct {
	Money          float64 `json:"money"`
	Deliverability float64 `json:"deliverability"`
	Confidence     float64 `json:"confidence"`

	RevenueIndex       float64 `json:"revenue_index"`
	RevenueIndexPoints float64 `json:"revenue_index_points"`
	RevenueSharePoints float64 `json:"revenue_share_points"`
	BaseDeliverability float64 `json:"base_deliverability"`
}

// StepScore is the composite health score of one step.
type StepScore struct {
	FlowID    string   `json:"flow_id"`
	MessageID string   `json:"flow_message_id"`
	Score     float64  `json:"score"`
	Action    Action   `json:"action"`
	Pillars   Pillars  `json:"pillars"`
	RiskHigh  bool     `json:"risk_high"`
	Notes     []string `json:"notes,omitempty"`
}

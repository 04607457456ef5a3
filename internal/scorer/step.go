package scorer

import (
	"fmt"
	"math"

	"github.com/sells-group/flow-analytics/internal/model"
)

// Context carries the account-wide aggregates a step is scored against.
type Context struct {
	MedianRevenuePerEmail float64 `json:"median_revenue_per_email"`
	AccountRevenueTotal   float64 `json:"account_revenue_total"`
	AccountSendsTotal     int64   `json:"account_sends_total"`
	// FlowRevenueTotal feeds the share-of-flow guardrail. Zero disables it.
	FlowRevenueTotal float64 `json:"flow_revenue_total,omitempty"`
}

// Engine scores steps against a Profile. It holds no mutable state.
type Engine struct {
	p Profile
}

// New creates an Engine.
func New(p Profile) *Engine {
	return &Engine{p: p}
}

// Default creates an Engine with DefaultProfile.
func Default() *Engine {
	return New(DefaultProfile())
}

// Score computes the composite score, pillar breakdown and action for one step.
func (e *Engine) Score(step model.StepMetrics, c Context) model.StepScore {
	p := e.p
	sent := float64(step.EmailsSent)
	rpe := perEmail(step.Revenue, step.EmailsSent)

	// Money.
	idx := revenueIndex(rpe, c.MedianRevenuePerEmail)
	idxPts := p.RevenueIndexPoints * clamp(idx, 0, p.RevenueIndexCap) / p.RevenueIndexCap
	sharePts := p.RevenueShareFloor
	if c.AccountRevenueTotal > 0 {
		sharePts = atLeast(step.Revenue/c.AccountRevenueTotal, p.RevenueShareBins, p.RevenueShareFloor)
	}
	money := idxPts + sharePts

	// Deliverability.
	var notes []string
	baseD := clamp(
		below(step.SpamRate, p.SpamBins)+
			below(step.BounceRate, p.BounceBins)+
			below(step.UnsubRate, p.UnsubBins)+
			atLeast(step.OpenRate, p.OpenBins, 0)+
			atLeast(step.ClickRate, p.ClickBins, 0),
		0, p.DeliverabilityMax)
	deliv := baseD
	var sendShare float64
	if c.AccountSendsTotal > 0 {
		sendShare = sent / float64(c.AccountSendsTotal)
	}
	if baseD < p.LowVolumeBelow && p.LowVolumeShare > 0 && sendShare < p.LowVolumeShare {
		deliv = baseD + (p.DeliverabilityMax-baseD)*(1-sendShare/p.LowVolumeShare)
		notes = append(notes, fmt.Sprintf("low-volume deliverability adjustment (%.2f%% of sends)", sendShare*100))
	}

	// Confidence.
	conf := clamp(math.Floor(sent/p.ConfidencePerPoint), 0, p.ConfidenceMax)

	score := clamp(money+deliv+conf, 0, 100)

	risks := e.risks(step)
	notes = append(notes, risks...)
	riskHigh := len(risks) > 0

	action := e.classify(score, money, idx, riskHigh)
	if riskHigh && action == model.ActionScale {
		action = model.ActionKeep
	}
	if !riskHigh && action == model.ActionPause {
		switch {
		case step.Revenue >= p.GuardrailRevenue:
			action = model.ActionKeep
			notes = append(notes, fmt.Sprintf("guardrail: revenue $%.2f kept step from pause", step.Revenue))
		case c.FlowRevenueTotal > 0 && step.Revenue/c.FlowRevenueTotal >= p.GuardrailFlowShare:
			action = model.ActionKeep
			notes = append(notes, fmt.Sprintf("guardrail: %.1f%% of flow revenue kept step from pause", step.Revenue/c.FlowRevenueTotal*100))
		}
	}
	if step.EmailsSent == 0 {
		notes = append(notes, "no sends in window")
	}

	return model.StepScore{
		FlowID:    step.FlowID,
		MessageID: step.MessageID,
		Score:     round2(score),
		Action:    action,
		RiskHigh:  riskHigh,
		Notes:     notes,
		Pillars: model.Pillars{
			Money:              round2(money),
			Deliverability:     round2(deliv),
			Confidence:         conf,
			RevenueIndex:       round2(idx),
			RevenueIndexPoints: round2(idxPts),
			RevenueSharePoints: sharePts,
			BaseDeliverability: round2(baseD),
		},
	}
}

func (e *Engine) classify(score, money, idx float64, riskHigh bool) model.Action {
	p := e.p
	switch {
	case riskHigh && money <= p.PauseMoneyMax:
		return model.ActionPause
	case riskHigh && (money >= p.RiskKeepMoneyMin || idx >= p.RiskKeepRevenueIdx):
		return model.ActionKeep
	case score >= p.ScaleMin:
		return model.ActionScale
	case score >= p.KeepMin:
		return model.ActionKeep
	case score >= p.ImproveMin:
		return model.ActionImprove
	default:
		return model.ActionPause
	}
}

// risks lists the high-risk signals of a step. Steps without sends carry none.
func (e *Engine) risks(step model.StepMetrics) []string {
	if step.EmailsSent <= 0 {
		return nil
	}
	p := e.p
	var out []string
	if step.SpamRate >= p.RiskSpam {
		out = append(out, fmt.Sprintf("risk: spam rate %.2f%%", step.SpamRate*100))
	}
	if step.UnsubRate > p.RiskUnsub {
		out = append(out, fmt.Sprintf("risk: unsubscribe rate %.2f%%", step.UnsubRate*100))
	}
	if step.BounceRate >= p.RiskBounce {
		out = append(out, fmt.Sprintf("risk: bounce rate %.2f%%", step.BounceRate*100))
	}
	if step.OpenRate < p.RiskOpen {
		out = append(out, fmt.Sprintf("risk: open rate %.1f%%", step.OpenRate*100))
	}
	if step.ClickRate < p.RiskClick {
		out = append(out, fmt.Sprintf("risk: click rate %.2f%%", step.ClickRate*100))
	}
	return out
}

// revenueIndex is rpe relative to the account median. Without a median any
// revenue counts as parity.
func revenueIndex(rpe, median float64) float64 {
	if median <= 0 {
		if rpe > 0 {
			return 1
		}
		return 0
	}
	return rpe / median
}

// below returns the points of the first bin whose threshold v is under.
func below(v float64, bins []Bin) float64 {
	for _, b := range bins {
		if v < b.Threshold || (!b.Strict && v == b.Threshold) {
			return b.Points
		}
	}
	return 0
}

// atLeast returns the points of the first bin whose threshold v reaches, or floor.
func atLeast(v float64, bins []Bin, floor float64) float64 {
	for _, b := range bins {
		if v > b.Threshold || (!b.Strict && v == b.Threshold) {
			return b.Points
		}
	}
	return floor
}

func perEmail(revenue float64, sent int64) float64 {
	if sent <= 0 {
		return 0
	}
	return revenue / float64(sent)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package scorer

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/flow-analytics/internal/model"
)

// Advice is the add-step recommendation for one flow.
type Advice struct {
	Suggested        bool     `json:"suggested"`
	Reasons          []string `json:"reasons,omitempty"`
	ProjectedReach   int64    `json:"projected_reach,omitempty"`
	RPEFloor         float64  `json:"rpe_floor,omitempty"`
	EstimatedRevenue float64  `json:"estimated_revenue,omitempty"`
}

// Advise decides whether a flow should get a new trailing step. steps and
// scores are the flow's steps in sequence order. windowEnd is the last day
// analysed and latestData the most recent day with data; a zero latestData
// skips the freshness gate. Reasons lists the failed gates.
func (e *Engine) Advise(steps []model.StepMetrics, scores []model.StepScore, windowEnd, latestData time.Time) Advice {
	p := e.p
	if len(steps) == 0 || len(scores) != len(steps) {
		return Advice{Reasons: []string{"no scored steps"}}
	}

	last := steps[len(steps)-1]
	lastScore := scores[len(scores)-1]
	lastRPE := perEmail(last.Revenue, last.EmailsSent)

	var rpes []float64
	var flowRevenue float64
	for _, s := range steps {
		rpes = append(rpes, perEmail(s.Revenue, s.EmailsSent))
		flowRevenue += s.Revenue
	}

	var failed []string
	if lastScore.Score < p.AddStepMinScore {
		failed = append(failed, fmt.Sprintf("last step score %.1f below %.0f", lastScore.Score, p.AddStepMinScore))
	}
	if median := percentile(rpes, 0.5); lastRPE < median {
		failed = append(failed, fmt.Sprintf("last step revenue per email %.4f below flow median %.4f", lastRPE, median))
	}
	if len(steps) > 1 {
		prev := steps[len(steps)-2]
		if prevRPE := perEmail(prev.Revenue, prev.EmailsSent); lastRPE < prevRPE {
			failed = append(failed, fmt.Sprintf("revenue per email fell from %.4f to %.4f", prevRPE, lastRPE))
		}
	}
	minSends := math.Max(float64(p.AddStepMinSends), p.AddStepMinSendsShare*float64(steps[0].EmailsSent))
	if float64(last.EmailsSent) < minSends {
		failed = append(failed, fmt.Sprintf("last step sends %d below %.0f", last.EmailsSent, minSends))
	}
	if last.Revenue < p.AddStepMinRevenue && (flowRevenue <= 0 || last.Revenue/flowRevenue < p.AddStepMinRevenueShare) {
		failed = append(failed, fmt.Sprintf("last step revenue $%.2f below $%.0f and %.0f%% of flow", last.Revenue, p.AddStepMinRevenue, p.AddStepMinRevenueShare*100))
	}
	if !latestData.IsZero() && dayOf(windowEnd).Before(dayOf(latestData)) {
		failed = append(failed, fmt.Sprintf("window ends %s before latest data %s", windowEnd.Format(time.DateOnly), latestData.Format(time.DateOnly)))
	}

	if len(failed) > 0 {
		return Advice{Reasons: failed}
	}

	reach := int64(math.Round(float64(last.EmailsSent) * p.AddStepReachFactor))
	floor := math.Min(percentile(rpes, p.AddStepRPEPercentile), lastRPE)
	return Advice{
		Suggested:        true,
		ProjectedReach:   reach,
		RPEFloor:         math.Round(floor*10000) / 10000,
		EstimatedRevenue: round2(float64(reach) * floor),
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

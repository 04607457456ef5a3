package scorer

import (
	"math"
	"slices"

	"github.com/sells-group/flow-analytics/internal/model"
)

// NewContext computes the account aggregates over every step in scope. The
// median revenue per email ignores steps without sends.
func NewContext(steps []model.StepMetrics) Context {
	var c Context
	var rpes []float64
	for _, s := range steps {
		c.AccountRevenueTotal += s.Revenue
		c.AccountSendsTotal += s.EmailsSent
		if s.EmailsSent > 0 {
			rpes = append(rpes, perEmail(s.Revenue, s.EmailsSent))
		}
	}
	c.MedianRevenuePerEmail = percentile(rpes, 0.5)
	return c
}

// ScoreFlow scores every step of one flow. account supplies the account-wide
// aggregates; the flow revenue total is derived from steps.
func (e *Engine) ScoreFlow(steps []model.StepMetrics, account Context) []model.StepScore {
	c := account
	c.FlowRevenueTotal = 0
	for _, s := range steps {
		c.FlowRevenueTotal += s.Revenue
	}
	out := make([]model.StepScore, 0, len(steps))
	for _, s := range steps {
		out = append(out, e.Score(s, c))
	}
	return out
}

// percentile returns the q-quantile of values using linear interpolation
// between closest ranks. Empty input yields 0.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	q = clamp(q, 0, 1)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

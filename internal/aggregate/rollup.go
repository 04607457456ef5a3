package aggregate

import (
	"math"
	"slices"
	"strings"

	"github.com/sells-group/flow-analytics/internal/model"
)

// RollupSteps sums rows into per-step metrics ordered by flow and sequence
// position. Draft placeholders are excluded. Steps without a known position
// sort after positioned ones.
func RollupSteps(rows []model.Row, messages []model.FlowMessage) []model.StepMetrics {
	type key struct{ flow, msg string }

	positions := make(map[key]int, len(messages))
	for _, m := range messages {
		positions[key{m.FlowID, m.ID}] = m.Position
	}

	acc := make(map[key]*model.StepMetrics)
	for _, r := range rows {
		if r.HasTag(model.TagDraft) {
			continue
		}
		k := key{r.FlowID, r.MessageID}
		s, ok := acc[k]
		if !ok {
			s = &model.StepMetrics{
				FlowID:      r.FlowID,
				FlowName:    r.FlowName,
				MessageID:   r.MessageID,
				MessageName: r.MessageName,
				Position:    positions[k],
			}
			acc[k] = s
		}
		d := float64(r.Delivered)
		s.EmailsSent += r.Delivered
		s.Revenue += r.Revenue
		s.Opens += r.UniqueOpens
		s.Clicks += r.UniqueClicks
		s.Conversions += r.PlacedOrder
		s.Unsubscribes += r.UnsubRate * d
		s.Bounces += r.BounceRate * d
		s.Spam += r.ComplaintRate * d
	}

	out := make([]model.StepMetrics, 0, len(acc))
	for _, s := range acc {
		s.Revenue = math.Round(s.Revenue*100) / 100
		s.DeriveRates()
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b model.StepMetrics) int {
		if c := strings.Compare(a.FlowID, b.FlowID); c != 0 {
			return c
		}
		if c := comparePosition(a.Position, b.Position); c != 0 {
			return c
		}
		return strings.Compare(a.MessageID, b.MessageID)
	})
	return out
}

// StepsForFlow returns the steps of one flow, preserving order.
func StepsForFlow(steps []model.StepMetrics, flowID string) []model.StepMetrics {
	var out []model.StepMetrics
	for _, s := range steps {
		if s.FlowID == flowID {
			out = append(out, s)
		}
	}
	return out
}

func comparePosition(a, b int) int {
	switch {
	case a == b:
		return 0
	case a == 0:
		return 1
	case b == 0:
		return -1
	case a < b:
		return -1
	default:
		return 1
	}
}

package scorer

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/flow-analytics/internal/model"
)

// marginalStep has no risk signals and the lowest non-risk deliverability
// (1+1+1+1+0.5 = 4.5 points).
func marginalStep(sent int64, revenue float64) model.StepMetrics {
	return model.StepMetrics{
		FlowID:     "F1",
		MessageID:  "M1",
		EmailsSent: sent,
		Revenue:    revenue,
		SpamRate:   0.0029,
		BounceRate: 0.049,
		UnsubRate:  0.01,
		OpenRate:   0.20,
		ClickRate:  0.01,
	}
}

func healthyStep(sent int64, revenue float64) model.StepMetrics {
	return model.StepMetrics{
		FlowID:     "F1",
		MessageID:  "M1",
		EmailsSent: sent,
		Revenue:    revenue,
		SpamRate:   0.0002,
		BounceRate: 0.005,
		UnsubRate:  0.001,
		OpenRate:   0.35,
		ClickRate:  0.04,
	}
}

func TestScore_DeliverabilityCeiling(t *testing.T) {
	t.Parallel()

	e := Default()
	for _, sent := range []int64{1, 100, 10_000, 1_000_000} {
		s := e.Score(healthyStep(sent, 0), Context{AccountSendsTotal: 1_000_000})
		assert.InDelta(t, 20.0, s.Pillars.BaseDeliverability, 1e-9, "sent=%d", sent)
		assert.InDelta(t, 20.0, s.Pillars.Deliverability, 1e-9, "sent=%d", sent)
	}
}

func TestScore_DeliverabilityBins(t *testing.T) {
	t.Parallel()

	p := DefaultProfile()
	tests := []struct {
		name string
		v    float64
		bins []Bin
		want float64
	}{
		{"spam best", 0.0004, p.SpamBins, 7},
		{"spam at 0.05%", 0.0005, p.SpamBins, 6},
		{"spam 0.15%", 0.0015, p.SpamBins, 3},
		{"spam 0.25%", 0.0025, p.SpamBins, 1},
		{"spam 0.30%", 0.003, p.SpamBins, 0},
		{"bounce 0.9%", 0.009, p.BounceBins, 7},
		{"bounce 1.5%", 0.015, p.BounceBins, 6},
		{"bounce 2.5%", 0.025, p.BounceBins, 3},
		{"bounce 4%", 0.04, p.BounceBins, 1},
		{"bounce 5%", 0.05, p.BounceBins, 0},
		{"unsub 0.1%", 0.001, p.UnsubBins, 3},
		{"unsub 0.3%", 0.003, p.UnsubBins, 2},
		{"unsub 1%", 0.01, p.UnsubBins, 1},
		{"unsub 1.5%", 0.015, p.UnsubBins, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, below(tt.v, tt.bins), 1e-9)
		})
	}

	atLeastTests := []struct {
		name string
		v    float64
		bins []Bin
		want float64
	}{
		{"open 35%", 0.35, p.OpenBins, 2},
		{"open 30%", 0.30, p.OpenBins, 2},
		{"open 25%", 0.25, p.OpenBins, 1},
		{"open 10%", 0.10, p.OpenBins, 0},
		{"click 4%", 0.04, p.ClickBins, 1},
		{"click 3%", 0.03, p.ClickBins, 0.5},
		{"click 1%", 0.01, p.ClickBins, 0.5},
		{"click 0.5%", 0.005, p.ClickBins, 0},
	}
	for _, tt := range atLeastTests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, atLeast(tt.v, tt.bins, 0), 1e-9)
		})
	}
}

func TestScore_RevenueSharePoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		share float64
		want  float64
	}{
		{0.20, 35},
		{0.05, 35},
		{0.049, 30},
		{0.03, 30},
		{0.02, 25},
		{0.01, 20},
		{0.005, 15},
		{0.0025, 10},
		{0.002, 5},
		{0, 5},
	}
	e := Default()
	for _, tt := range tests {
		s := e.Score(healthyStep(1000, tt.share*100_000), Context{AccountRevenueTotal: 100_000, AccountSendsTotal: 1000})
		assert.InDelta(t, tt.want, s.Pillars.RevenueSharePoints, 1e-9, "share=%v", tt.share)
	}

	s := e.Score(healthyStep(1000, 500), Context{})
	assert.InDelta(t, 5.0, s.Pillars.RevenueSharePoints, 1e-9, "floor without account revenue")
}

func TestScore_RevenueIndexPoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		rev    float64
		median float64
		want   float64
	}{
		{"at median", 500, 0.5, 17.5},
		{"double median", 1000, 0.5, 35},
		{"capped above double", 5000, 0.5, 35},
		{"half median", 250, 0.5, 8.75},
		{"no revenue", 0, 0.5, 0},
		{"no median with revenue", 10, 0, 17.5},
		{"no median no revenue", 0, 0, 0},
	}
	e := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.Score(healthyStep(1000, tt.rev), Context{MedianRevenuePerEmail: tt.median})
			assert.InDelta(t, tt.want, s.Pillars.RevenueIndexPoints, 0.01)
		})
	}
}

func TestScore_Confidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sent int64
		want float64
	}{
		{0, 0}, {99, 0}, {100, 1}, {950, 9}, {1000, 10}, {50_000, 10},
	}
	e := Default()
	for _, tt := range tests {
		s := e.Score(healthyStep(tt.sent, 0), Context{})
		assert.InDelta(t, tt.want, s.Pillars.Confidence, 1e-9, "sent=%d", tt.sent)
	}
}

func TestScore_LowVolumeAdjustment(t *testing.T) {
	t.Parallel()

	e := Default()

	low := e.Score(marginalStep(10, 0), Context{AccountSendsTotal: 10_000})
	assert.InDelta(t, 4.5, low.Pillars.BaseDeliverability, 1e-9)
	assert.InDelta(t, 4.5+15.5*0.8, low.Pillars.Deliverability, 1e-9)
	assert.NotEmpty(t, low.Notes)

	high := e.Score(marginalStep(100, 0), Context{AccountSendsTotal: 10_000})
	assert.InDelta(t, 4.5, high.Pillars.Deliverability, 1e-9)

	healthy := e.Score(healthyStep(1, 0), Context{AccountSendsTotal: 10_000})
	assert.InDelta(t, 20.0, healthy.Pillars.Deliverability, 1e-9)
}

func TestScore_BoundsHoldForAllInputs(t *testing.T) {
	t.Parallel()

	e := Default()
	rng := rand.New(rand.NewPCG(7, 11))
	for range 5000 {
		sent := rng.Int64N(200_000)
		step := model.StepMetrics{
			EmailsSent: sent,
			Revenue:    rng.Float64() * 50_000,
			SpamRate:   rng.Float64() * 0.01,
			BounceRate: rng.Float64() * 0.1,
			UnsubRate:  rng.Float64() * 0.03,
			OpenRate:   rng.Float64(),
			ClickRate:  rng.Float64() * 0.1,
		}
		c := Context{
			MedianRevenuePerEmail: rng.Float64() * 2,
			AccountRevenueTotal:   step.Revenue + rng.Float64()*1_000_000,
			AccountSendsTotal:     sent + rng.Int64N(5_000_000),
		}
		s := e.Score(step, c)
		require.GreaterOrEqual(t, s.Score, 0.0)
		require.LessOrEqual(t, s.Score, 100.0)
		require.GreaterOrEqual(t, s.Pillars.Money, 0.0)
		require.LessOrEqual(t, s.Pillars.Money, 70.0)
		require.GreaterOrEqual(t, s.Pillars.Deliverability, 0.0)
		require.LessOrEqual(t, s.Pillars.Deliverability, 20.0)
		require.GreaterOrEqual(t, s.Pillars.Confidence, 0.0)
		require.LessOrEqual(t, s.Pillars.Confidence, 10.0)
		require.Contains(t, []model.Action{model.ActionScale, model.ActionKeep, model.ActionImprove, model.ActionPause}, s.Action)
	}
}

func TestScore_MoneyMonotonicInRevenuePerEmail(t *testing.T) {
	t.Parallel()

	e := Default()
	c := Context{MedianRevenuePerEmail: 0.4, AccountRevenueTotal: 200_000, AccountSendsTotal: 500_000}
	prev := -1.0
	for rev := 0.0; rev <= 20_000; rev += 137 {
		s := e.Score(healthyStep(10_000, rev), c)
		require.GreaterOrEqual(t, s.Pillars.Money, prev, "revenue %.0f", rev)
		prev = s.Pillars.Money
	}
}

func TestScore_Actions(t *testing.T) {
	t.Parallel()

	e := Default()
	tests := []struct {
		name     string
		step     model.StepMetrics
		ctx      Context
		action   model.Action
		riskHigh bool
		note     string
	}{
		{
			name:   "guardrail on absolute revenue",
			step:   marginalStep(500, 6000),
			ctx:    Context{MedianRevenuePerEmail: 8.4, AccountRevenueTotal: 10_000_000, AccountSendsTotal: 10_000},
			action: model.ActionKeep,
			note:   "guardrail: revenue $6000.00 kept step from pause",
		},
		{
			name:   "guardrail on flow share",
			step:   marginalStep(500, 1000),
			ctx:    Context{MedianRevenuePerEmail: 1.4, AccountRevenueTotal: 10_000_000, AccountSendsTotal: 10_000, FlowRevenueTotal: 5000},
			action: model.ActionKeep,
			note:   "guardrail: 20.0% of flow revenue kept step from pause",
		},
		{
			name:   "pause without guardrail",
			step:   marginalStep(500, 1000),
			ctx:    Context{MedianRevenuePerEmail: 1.4, AccountRevenueTotal: 10_000_000, AccountSendsTotal: 10_000, FlowRevenueTotal: 50_000},
			action: model.ActionPause,
		},
		{
			name: "risky low money pauses despite revenue",
			step: func() model.StepMetrics {
				s := marginalStep(500, 6000)
				s.OpenRate = 0.10
				return s
			}(),
			ctx:      Context{MedianRevenuePerEmail: 8.4, AccountRevenueTotal: 10_000_000, AccountSendsTotal: 10_000},
			action:   model.ActionPause,
			riskHigh: true,
			note:     "risk: open rate 10.0%",
		},
		{
			name: "risky high money capped at keep",
			step: func() model.StepMetrics {
				s := healthyStep(5000, 10_000)
				s.SpamRate = 0.004
				return s
			}(),
			ctx:      Context{MedianRevenuePerEmail: 0.5, AccountRevenueTotal: 100_000, AccountSendsTotal: 50_000},
			action:   model.ActionKeep,
			riskHigh: true,
		},
		{
			name: "risky strong revenue index keeps",
			step: func() model.StepMetrics {
				s := healthyStep(5000, 4000)
				s.UnsubRate = 0.02
				return s
			}(),
			ctx:      Context{MedianRevenuePerEmail: 0.5, AccountRevenueTotal: 350_000, AccountSendsTotal: 50_000},
			action:   model.ActionKeep,
			riskHigh: true,
		},
		{
			name:   "healthy high earner scales",
			step:   healthyStep(5000, 10_000),
			ctx:    Context{MedianRevenuePerEmail: 0.5, AccountRevenueTotal: 100_000, AccountSendsTotal: 50_000},
			action: model.ActionScale,
		},
		{
			name:   "healthy median earner keeps",
			step:   healthyStep(5000, 2500),
			ctx:    Context{MedianRevenuePerEmail: 0.5, AccountRevenueTotal: 250_000, AccountSendsTotal: 50_000},
			action: model.ActionKeep,
		},
		{
			name:   "healthy weak earner improves",
			step:   healthyStep(5000, 500),
			ctx:    Context{MedianRevenuePerEmail: 0.5, AccountRevenueTotal: 100_000, AccountSendsTotal: 50_000},
			action: model.ActionImprove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.Score(tt.step, tt.ctx)
			assert.Equal(t, tt.action, s.Action, "score=%.2f money=%.2f", s.Score, s.Pillars.Money)
			assert.Equal(t, tt.riskHigh, s.RiskHigh)
			if tt.note != "" {
				assert.Contains(t, s.Notes, tt.note)
			}
		})
	}
}

func TestScore_GuardrailScenarioPillars(t *testing.T) {
	t.Parallel()

	s := Default().Score(marginalStep(500, 6000), Context{MedianRevenuePerEmail: 8.4, AccountRevenueTotal: 10_000_000, AccountSendsTotal: 10_000})
	assert.InDelta(t, 30.0, s.Pillars.Money, 0.01)
	assert.False(t, s.RiskHigh)
	assert.InDelta(t, 39.5, s.Score, 0.01)
	assert.Equal(t, model.ActionKeep, s.Action)
}

func TestScore_NoSends(t *testing.T) {
	t.Parallel()

	s := Default().Score(model.StepMetrics{FlowID: "F", MessageID: "M"}, Context{MedianRevenuePerEmail: 0.5, AccountRevenueTotal: 1000, AccountSendsTotal: 1000})
	assert.False(t, s.RiskHigh)
	assert.Zero(t, s.Pillars.Confidence)
	assert.Contains(t, s.Notes, "no sends in window")
	assert.Equal(t, "M", s.MessageID)
}

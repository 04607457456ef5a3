// Package pipeline runs aggregation and scoring end to end for one request.
package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flow-analytics/internal/aggregate"
	"github.com/sells-group/flow-analytics/internal/model"
	"github.com/sells-group/flow-analytics/internal/scorer"
)

// Aggregator produces the reconciled row set. *aggregate.Orchestrator
// satisfies it.
type Aggregator interface {
	Run(ctx context.Context, req aggregate.Request) (*aggregate.Result, error)
}

// Pipeline composes an Aggregator with the scoring engine.
type Pipeline struct {
	agg    Aggregator
	engine *scorer.Engine
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used for the add-step freshness gate.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline.
func New(agg Aggregator, engine *scorer.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{agg: agg, engine: engine, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StepResult pairs a step's metrics with its score.
type StepResult struct {
	Metrics model.StepMetrics `json:"metrics"`
	Score   model.StepScore   `json:"score"`
}

// FlowScores is the scored view of one flow.
type FlowScores struct {
	FlowID   string           `json:"flow_id"`
	FlowName string           `json:"flow_name"`
	Status   model.FlowStatus `json:"status"`
	Steps    []StepResult     `json:"steps"`
	Advice   scorer.Advice    `json:"advice"`
}

// ScoreReport is the output of Score.
type ScoreReport struct {
	WindowEnd   string                `json:"window_end"`
	LatestData  string                `json:"latest_data"`
	Context     scorer.Context        `json:"context"`
	Flows       []FlowScores          `json:"flows"`
	Diagnostics aggregate.Diagnostics `json:"diagnostics"`
}

// Report returns the reconciled rows for req.
func (p *Pipeline) Report(ctx context.Context, req aggregate.Request) (*aggregate.Result, error) {
	return p.agg.Run(ctx, req)
}

// Score aggregates every flow so the scoring context is account-wide, then
// scores the flows named in req.FlowIDs (all flows when empty).
func (p *Pipeline) Score(ctx context.Context, req aggregate.Request) (*ScoreReport, error) {
	flowIDs := req.FlowIDs
	req.FlowIDs = nil
	res, err := p.agg.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	latest := p.latestAvailable(res.Diagnostics.Timezone)
	return ScoreResult(p.engine, res, flowIDs, latest), nil
}

// latestAvailable is yesterday in the account timezone: the most recent day
// whose data is complete.
func (p *Pipeline) latestAvailable(tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	y, m, d := p.now().In(loc).AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ScoreResult scores an aggregation result. latest is the most recent day
// with available data; a zero value skips the add-step freshness gate.
func ScoreResult(engine *scorer.Engine, res *aggregate.Result, flowIDs []string, latest time.Time) *ScoreReport {
	steps := aggregate.RollupSteps(res.Rows, res.Messages)
	account := scorer.NewContext(steps)

	windowEnd, err := time.Parse(time.DateOnly, res.Diagnostics.WindowEnd)
	if err != nil {
		zap.L().Warn("pipeline: unparseable window end", zap.String("window_end", res.Diagnostics.WindowEnd))
	}

	report := &ScoreReport{
		WindowEnd:   res.Diagnostics.WindowEnd,
		Context:     account,
		Diagnostics: res.Diagnostics,
	}
	if !latest.IsZero() {
		report.LatestData = latest.Format(time.DateOnly)
	}

	for _, f := range res.Flows {
		if len(flowIDs) > 0 && !slices.Contains(flowIDs, f.ID) {
			continue
		}
		if f.Status == model.FlowStatusDraft {
			continue
		}
		flowSteps := aggregate.StepsForFlow(steps, f.ID)
		if len(flowSteps) == 0 {
			continue
		}
		scores := engine.ScoreFlow(flowSteps, account)
		fs := FlowScores{
			FlowID:   f.ID,
			FlowName: f.Name,
			Status:   f.Status,
			Advice:   engine.Advise(flowSteps, scores, windowEnd, latest),
		}
		for i := range flowSteps {
			fs.Steps = append(fs.Steps, StepResult{Metrics: flowSteps[i], Score: scores[i]})
		}
		report.Flows = append(report.Flows, fs)
	}
	return report
}

// FindFlow returns the scores of one flow.
func (r *ScoreReport) FindFlow(flowID string) (FlowScores, error) {
	for _, f := range r.Flows {
		if f.FlowID == flowID {
			return f, nil
		}
	}
	return FlowScores{}, eris.Wrapf(ErrFlowNotScored, "flow %s", flowID)
}

// ErrFlowNotScored is returned when a flow has no scorable steps in the window.
var ErrFlowNotScored = eris.New("pipeline: flow has no scored steps")

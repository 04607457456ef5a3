package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/flow-analytics/internal/aggregate"
	"github.com/sells-group/flow-analytics/internal/config"
	"github.com/sells-group/flow-analytics/internal/pipeline"
	"github.com/sells-group/flow-analytics/internal/resilience"
	"github.com/sells-group/flow-analytics/internal/scorer"
	"github.com/sells-group/flow-analytics/pkg/reporting"
)

// newReportingClient builds the upstream client from config.
func newReportingClient(c *config.Config) reporting.Client {
	u := c.Upstream
	return reporting.NewClient(u.APIKey,
		reporting.WithBaseURL(u.BaseURL),
		reporting.WithRevision(u.Revision),
		reporting.WithHTTPClient(&http.Client{Timeout: u.Timeout()}),
		reporting.WithRateLimit(u.RateLimitRPS),
		reporting.WithRetry(resilience.FromRetryConfig(u.MaxAttempts, u.InitialBackoffMs, u.MaxBackoffMs, u.MaxJitterMs)),
	)
}

// aggregateOptions maps config to orchestrator options.
func aggregateOptions(c *config.Config) (aggregate.Options, error) {
	a := c.Aggregation
	mode, err := aggregate.ParseMode(a.Mode)
	if err != nil {
		return aggregate.Options{}, err
	}
	opts := aggregate.DefaultOptions()
	opts.Mode = mode
	opts.RowBudget = a.RowBudget
	opts.Concurrency = a.Concurrency
	opts.IncludeSynthetic = a.IncludeSynthetic
	opts.IncludeDrafts = a.IncludeDrafts
	opts.DisableEnrichment = !a.Enrichment
	opts.MaxDuration = a.MaxDuration()
	return opts, nil
}

// newPipeline wires the client, orchestrator and scoring engine.
func newPipeline(c *config.Config, opts aggregate.Options) (*pipeline.Pipeline, error) {
	profile := scorer.DefaultProfile()
	if path := c.Scoring.ProfilePath; path != "" {
		var err error
		if profile, err = scorer.LoadProfile(path); err != nil {
			return nil, err
		}
		zap.L().Info("loaded scoring profile", zap.String("path", path))
	}

	src := aggregate.NewClientSource(newReportingClient(c), c.Upstream.ConversionMetric, c.Upstream.PageCap)
	return pipeline.New(aggregate.New(src, opts), scorer.New(profile)), nil
}

// addWindowFlags registers the flags shared by report and score.
func addWindowFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("start", "", "first day of the window (YYYY-MM-DD, required)")
	f.String("end", "", "last day of the window, inclusive (YYYY-MM-DD, default: start)")
	f.String("mode", "", "aggregation mode: per-day, range or auto (default: config)")
	f.String("flows", "", "comma-separated flow ids (default: all flows)")
	f.Bool("include-drafts", false, "emit placeholder rows for draft flows")
	f.Bool("no-synthetic", false, "skip zero rows for live steps with no activity")
	f.Bool("no-enrichment", false, "skip metadata lookups for unmatched message ids")
	f.Int("budget", 0, "row budget (0=use config)")
	f.String("format", "table", "output format")
	f.String("output", "", "output file path (default: stdout)")
}

// windowRequest builds the aggregation request and options from flags.
func windowRequest(cmd *cobra.Command, c *config.Config) (aggregate.Request, aggregate.Options, error) {
	var req aggregate.Request
	opts, err := aggregateOptions(c)
	if err != nil {
		return req, opts, err
	}

	startFlag, _ := cmd.Flags().GetString("start")
	endFlag, _ := cmd.Flags().GetString("end")
	modeFlag, _ := cmd.Flags().GetString("mode")
	flowsFlag, _ := cmd.Flags().GetString("flows")

	if startFlag == "" {
		return req, opts, eris.Wrap(aggregate.ErrInvalidRequest, "--start is required")
	}
	if endFlag == "" {
		endFlag = startFlag
	}
	req.Start, err = time.Parse(time.DateOnly, startFlag)
	if err != nil {
		return req, opts, eris.Wrapf(aggregate.ErrInvalidRequest, "--start %q: want YYYY-MM-DD", startFlag)
	}
	req.End, err = time.Parse(time.DateOnly, endFlag)
	if err != nil {
		return req, opts, eris.Wrapf(aggregate.ErrInvalidRequest, "--end %q: want YYYY-MM-DD", endFlag)
	}
	if req.End.Before(req.Start) {
		return req, opts, eris.Wrap(aggregate.ErrInvalidRequest, "--end is before --start")
	}
	if modeFlag != "" {
		if req.Mode, err = aggregate.ParseMode(modeFlag); err != nil {
			return req, opts, err
		}
	}
	req.FlowIDs = splitAndTrim(flowsFlag)

	if v, _ := cmd.Flags().GetBool("include-drafts"); v {
		opts.IncludeDrafts = true
	}
	if v, _ := cmd.Flags().GetBool("no-synthetic"); v {
		opts.IncludeSynthetic = false
	}
	if v, _ := cmd.Flags().GetBool("no-enrichment"); v {
		opts.DisableEnrichment = true
	}
	if v, _ := cmd.Flags().GetInt("budget"); v > 0 {
		opts.RowBudget = v
	}
	return req, opts, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

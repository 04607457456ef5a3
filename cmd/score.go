package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score flow steps and suggest new steps",
	Long: `Aggregate a window of flow data and score every email step 0-100 from
three pillars: money (revenue index and share of account revenue),
deliverability (spam, bounce, unsubscribe, open and click rates) and
confidence (send volume). Each step gets a scale, keep, improve or pause
action, and each flow gets an add-step recommendation.

The scoring context (median revenue per email, account totals) always covers
every flow, so --flows only narrows the output.

Examples:
  score --start 2026-09-01 --end 2026-09-30
  score --start 2026-09-01 --end 2026-09-30 --flows XyZ123 --format json`,
	RunE: runScore,
}

func init() {
	addWindowFlags(scoreCmd)
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("score"); err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	if format != "table" && format != "json" {
		return eris.Errorf("score: --format must be table or json (got %q)", format)
	}

	req, opts, err := windowRequest(cmd, cfg)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return err
	}

	report, err := p.Score(ctx, req)
	if err != nil {
		return eris.Wrap(err, "score")
	}
	zap.L().Info("scoring complete",
		zap.String("run_id", report.Diagnostics.RunID),
		zap.Int("flows", len(report.Flows)),
	)

	out, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	if format == "json" {
		return writeJSON(out, report)
	}
	if err := writeScoresTable(out, report); err != nil {
		return err
	}
	printDiagnostics(out, report.Diagnostics)
	return nil
}

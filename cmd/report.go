package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate flow report rows for a date window",
	Long: `Pull flow performance for every email step over a window of days and
print the reconciled row set.

Modes:
  per-day  one report call per day, zero rows for live steps with no activity
  range    one report call for the whole window, rows labeled with the end day
  auto     per-day, falling back to range when per-day returns nothing

Examples:
  # Last week as a table
  report --start 2026-09-01 --end 2026-09-07

  # Two flows, CSV to a file
  report --start 2026-09-01 --end 2026-09-30 --flows XyZ123,AbC456 --format csv --output sept.csv

  # Single range call, Excel export
  report --start 2026-09-01 --end 2026-09-30 --mode range --format xlsx --output sept.xlsx`,
	RunE: runReport,
}

func init() {
	addWindowFlags(reportCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("report"); err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	switch format {
	case "table", "csv", "json", "xlsx":
	default:
		return eris.Errorf("report: --format must be table, csv, json or xlsx (got %q)", format)
	}
	if format == "xlsx" && outputPath == "" {
		return eris.New("report: --format xlsx requires --output")
	}

	req, opts, err := windowRequest(cmd, cfg)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("command", "report"))
	log.Info("starting report",
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
		zap.Strings("flows", req.FlowIDs),
	)

	res, err := p.Report(ctx, req)
	if err != nil {
		return eris.Wrap(err, "report")
	}

	out, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	switch format {
	case "csv":
		err = writeRowsCSV(out, res.Rows)
	case "json":
		err = writeJSON(out, res)
	case "xlsx":
		err = writeRowsXLSX(out, res.Rows)
	default:
		err = writeRowsTable(out, res.Rows)
		if err == nil {
			printDiagnostics(out, res.Diagnostics)
		}
	}
	if err != nil {
		return err
	}
	if outputPath != "" {
		printDiagnostics(os.Stderr, res.Diagnostics)
	}
	return nil
}

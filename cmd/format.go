package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/flow-analytics/internal/aggregate"
	"github.com/sells-group/flow-analytics/internal/model"
	"github.com/sells-group/flow-analytics/internal/pipeline"
)

var printer = message.NewPrinter(language.English)

// openOutput returns stdout or a created file. The caller closes it.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "create output file %s", path)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeRowsCSV(w io.Writer, rows []model.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.Columns); err != nil {
		return eris.Wrap(err, "report: write CSV header")
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return eris.Wrap(err, "report: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush CSV")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode JSON")
}

func writeRowsXLSX(w io.Writer, rows []model.Row) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Flow Report")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range model.Columns {
		header.AddCell().SetString(c)
	}

	for _, r := range rows {
		row := sheet.AddRow()
		for _, s := range []string{r.Day, r.FlowID, r.FlowName, r.MessageID, r.MessageName, r.Channel, r.Status} {
			row.AddCell().SetString(s)
		}
		row.AddCell().SetInt64(r.Delivered)
		row.AddCell().SetInt64(r.UniqueOpens)
		row.AddCell().SetFloat(r.OpenRate)
		row.AddCell().SetInt64(r.UniqueClicks)
		row.AddCell().SetFloat(r.ClickRate)
		row.AddCell().SetInt64(r.PlacedOrder)
		row.AddCell().SetFloat(r.PlacedOrderRate)
		row.AddCell().SetFloat(r.Revenue)
		row.AddCell().SetFloat(r.RevenuePerRecipient)
		row.AddCell().SetFloat(r.UnsubRate)
		row.AddCell().SetFloat(r.ComplaintRate)
		row.AddCell().SetFloat(r.BounceRate)
		row.AddCell().SetString(strings.Join(r.Tags, ";"))
	}

	return eris.Wrap(file.Write(w), "report: write xlsx")
}

func writeRowsTable(w io.Writer, rows []model.Row) error {
	if _, err := fmt.Fprintf(w, "%-10s %-28s %-28s %10s %7s %7s %7s %12s %s\n",
		"Day", "Flow", "Message", "Delivered", "Open", "Click", "Order", "Revenue", "Tags"); err != nil {
		return eris.Wrap(err, "report: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 120)); err != nil {
		return eris.Wrap(err, "report: write table separator")
	}
	for _, r := range rows {
		line := printer.Sprintf("%-10s %-28s %-28s %10d %6.1f%% %6.1f%% %6.2f%% %12s %s\n",
			r.Day, truncate(r.FlowName, 28), truncate(r.MessageName, 28), r.Delivered,
			r.OpenRate*100, r.ClickRate*100, r.PlacedOrderRate*100,
			money(r.Revenue), strings.Join(r.Tags, ","))
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "report: write table row")
		}
	}
	return nil
}

func printDiagnostics(w io.Writer, d aggregate.Diagnostics) {
	fmt.Fprintf(w, "\n--- Run %s ---\n", d.RunID)                                            //nolint:errcheck
	fmt.Fprintf(w, "Window:        %s .. %s (%s)\n", d.WindowStart, d.WindowEnd, d.Timezone) //nolint:errcheck
	fmt.Fprintf(w, "Mode:          %s (requested %s)\n", d.UsedMode, d.RequestedMode)        //nolint:errcheck
	if d.FallbackTriggered {
		fmt.Fprintf(w, "Fallback:      %s\n", d.FallbackReason) //nolint:errcheck
	}
	if p := d.PerDayPass; p != nil {
		fmt.Fprint(w, printer.Sprintf("Per-day pass:  %d calls (%d upstream rows)\n", p.ReportCalls, p.UpstreamRows)) //nolint:errcheck
	}
	fmt.Fprint(w, printer.Sprintf("Report calls:  %d (%d upstream rows)\n", d.ReportCalls, d.UpstreamRows))                      //nolint:errcheck
	fmt.Fprint(w, printer.Sprintf("Rows:          %d real, %d synthetic, %d draft\n", d.RealRows, d.SyntheticRows, d.DraftRows)) //nolint:errcheck
	for _, warn := range d.Warnings {
		fmt.Fprintf(w, "Warning:       %s\n", warn) //nolint:errcheck
	}
}

func writeScoresTable(w io.Writer, report *pipeline.ScoreReport) error {
	if len(report.Flows) == 0 {
		_, err := fmt.Fprintln(w, "No scored flows.")
		return eris.Wrap(err, "score: write table")
	}
	for _, f := range report.Flows {
		if _, err := fmt.Fprintf(w, "\n%s (%s)\n", f.FlowName, f.FlowID); err != nil {
			return eris.Wrap(err, "score: write flow header")
		}
		fmt.Fprintf(w, "%-4s %-30s %10s %12s %7s %6s %6s %6s %-8s %s\n", //nolint:errcheck
			"#", "Message", "Sent", "Revenue", "Score", "Money", "Deliv", "Conf", "Action", "Notes")
		fmt.Fprintln(w, strings.Repeat("-", 120)) //nolint:errcheck
		for _, s := range f.Steps {
			m, sc := s.Metrics, s.Score
			line := printer.Sprintf("%-4d %-30s %10d %12s %7.1f %6.1f %6.1f %6.1f %-8s %s\n",
				m.Position, truncate(m.MessageName, 30), m.EmailsSent, money(m.Revenue),
				sc.Score, sc.Pillars.Money, sc.Pillars.Deliverability, sc.Pillars.Confidence,
				sc.Action, strings.Join(sc.Notes, "; "))
			if _, err := fmt.Fprint(w, line); err != nil {
				return eris.Wrap(err, "score: write step row")
			}
		}
		if f.Advice.Suggested {
			fmt.Fprint(w, printer.Sprintf("Add step: yes, reach ~%d, est. %s at $%.4f/email\n", //nolint:errcheck
				f.Advice.ProjectedReach, money(f.Advice.EstimatedRevenue), f.Advice.RPEFloor))
		} else {
			fmt.Fprintf(w, "Add step: no (%s)\n", strings.Join(f.Advice.Reasons, "; ")) //nolint:errcheck
		}
	}
	return nil
}

func money(v float64) string {
	return printer.Sprintf("$%.2f", v)
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

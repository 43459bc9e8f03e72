package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/strataform/strataform/pkg/core"
)

// renderReport prints a run report as a table, one row per model in
// execution order, followed by a summary line.
func renderReport(w io.Writer, report *core.RunReport, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Model", "Status", "Build", "Rows", "Watermark", "Duration", "Detail"})

	for i := range report.Results {
		r := &report.Results[i]

		build := "-"
		switch {
		case r.Status == core.ModelStatusSkipped:
		case r.FullRebuild:
			build = "full"
		default:
			build = "incremental"
		}

		detail := ""
		switch {
		case r.ValidationFailed:
			detail = describeAssertions(r)
		case r.Status == core.ModelStatusSkipped && r.RootCause != "":
			detail = "upstream: " + r.RootCause
		case r.Error != nil:
			detail = r.Error.Error()
		}

		t.AppendRow(table.Row{
			r.Model,
			string(r.Status),
			build,
			r.RowsAffected,
			orDash(r.Watermark),
			r.Duration().Round(time.Millisecond),
			detail,
		})
	}
	t.Render()

	succeeded, failed, skipped := report.Counts()
	fmt.Fprintf(w, "Run %s: %s (%d succeeded, %d failed, %d skipped) in %s\n",
		report.RunID, report.Status, succeeded, failed, skipped, elapsed.Round(time.Millisecond))
}

// describeAssertions summarizes failed assertions for the detail column.
func describeAssertions(r *core.ModelResult) string {
	detail := ""
	for i := range r.Assertions {
		a := &r.Assertions[i]
		if a.Passed {
			continue
		}
		if detail != "" {
			detail += "; "
		}
		if a.Err != nil {
			detail += fmt.Sprintf("%s: %v", a.Name, a.Err)
		} else {
			detail += fmt.Sprintf("%s: %d failing rows (%s)", a.Name, a.FailingRows, a.Severity)
		}
	}
	return detail
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

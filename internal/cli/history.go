package cli

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newHistoryCommand creates the history command.
func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := createEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			runs, err := eng.Store().ListRuns(limit)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Run", "Status", "Full Refresh", "Started", "Duration", "Error"})

			for _, run := range runs {
				duration := "-"
				if run.CompletedAt != nil {
					duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
				}
				t.AppendRow(table.Row{
					run.ID,
					string(run.Status),
					run.FullRefresh,
					run.StartedAt.Format(time.RFC3339),
					duration,
					run.Error,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/strataform/strataform/internal/engine"
)

// newRunCommand creates the run command.
func newRunCommand() *cobra.Command {
	var (
		selectFlag  string
		downstream  bool
		upstream    bool
		fullRefresh bool
		loadSeeds   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all models or a selected subset",
		Long: `Execute models in dependency order.

By default, runs every discovered model. Use --select to run specific
models, optionally expanded with their dependents (--downstream) or
dependencies (--upstream).`,
		Example: `  # Run all models
  strataform run

  # Run specific models
  strataform run --select stg_orders,mart_sales_daily

  # Run a model and everything downstream of it
  strataform run --select stg_orders --downstream

  # Force full rebuilds of incremental models
  strataform run --full-refresh`,
		Aliases: []string{"build"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := createEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			ctx := cmd.Context()
			start := time.Now()

			if loadSeeds {
				if err := eng.LoadSeeds(ctx); err != nil {
					return fmt.Errorf("failed to load seeds: %w", err)
				}
			}

			opts := engine.RunOptions{
				Downstream:  downstream,
				Upstream:    upstream,
				FullRefresh: fullRefresh,
			}
			if selectFlag != "" {
				for _, name := range strings.Split(selectFlag, ",") {
					opts.Select = append(opts.Select, strings.TrimSpace(name))
				}
			}

			report, err := eng.Run(ctx, opts)
			if err != nil {
				return err
			}

			renderReport(cmd.OutOrStdout(), report, time.Since(start))
			if report.Failed() {
				return fmt.Errorf("run %s failed", report.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&selectFlag, "select", "s", "", "Comma-separated list of models to run")
	cmd.Flags().BoolVar(&downstream, "downstream", false, "Include downstream dependents of the selection")
	cmd.Flags().BoolVar(&upstream, "upstream", false, "Include upstream dependencies of the selection")
	cmd.Flags().BoolVar(&fullRefresh, "full-refresh", false, "Rebuild incremental models from scratch")
	cmd.Flags().BoolVar(&loadSeeds, "seed", false, "Load seed CSVs before running")

	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSeedCommand creates the seed command.
func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load seed data from CSV files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := createEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if err := eng.LoadSeeds(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load seeds: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeds loaded from %s\n", cfg.SeedsDir)
			return nil
		},
	}
}

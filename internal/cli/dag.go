package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newDAGCommand creates the dag command.
func newDAGCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dag",
		Short: "Print the dependency graph by execution layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := createEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			graph, err := eng.Registry().BuildGraph()
			if err != nil {
				return err
			}

			layers, err := graph.Layers()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, layer := range layers {
				fmt.Fprintf(out, "Layer %d:\n", i)
				for _, id := range layer {
					node, _ := graph.Node(id)
					label := id
					if node != nil && node.IsSource() {
						label = id + " (source)"
					}
					parents := graph.Parents(id)
					if len(parents) > 0 {
						fmt.Fprintf(out, "  %s <- %s\n", label, strings.Join(parents, ", "))
					} else {
						fmt.Fprintf(out, "  %s\n", label)
					}
				}
			}
			return nil
		},
	}
}

package cli

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/strataform/strataform/pkg/core"
)

// newListCommand creates the list command.
func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered models and sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := createEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Kind", "Strategy", "Watermark", "Refs", "Tags"})

			for _, s := range eng.Registry().Sources() {
				t.AppendRow(table.Row{s.Ref(), "source", "-", "-", "-", "-"})
			}
			for _, m := range eng.Registry().Models() {
				strategy := "-"
				watermark := "-"
				if m.Kind == core.KindIncremental {
					strategy = string(m.EffectiveStrategy())
					watermark = m.WatermarkColumn
				}
				t.AppendRow(table.Row{
					m.Name,
					string(m.Kind),
					strategy,
					watermark,
					strings.Join(m.References, ", "),
					strings.Join(m.Tags, ", "),
				})
			}
			t.Render()
			return nil
		},
	}
}

package commands

import (
	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/internal/registry"
	"github.com/spf13/cobra"
)

// NewSourcesCommand creates the sources command.
func NewSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured asset sources",
		Long: `Show every configured asset source with its system, whether it is
enabled, and whether it could be opened.`,
		Args: cobra.NoArgs,
		RunE: runSources,
	}
}

func runSources(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	sources := cmdCtx.Engine.Sources()
	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if sources == nil {
			sources = []registry.SourceInfo{}
		}
		return r.JSON(sources)
	}

	rows := make([][]any, 0, len(sources))
	for _, s := range sources {
		rows = append(rows, []any{s.ID, s.Type, s.System, s.Enabled, s.Available, s.Error})
	}
	r.Header("Sources")
	r.Table([]string{"ID", "Type", "System", "Enabled", "Available", "Error"}, rows)
	return nil
}

package commands

import (
	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/internal/engine"
	"github.com/spf13/cobra"
)

// AssetOptions holds options for the asset command.
type AssetOptions struct {
	Depth int
}

// NewAssetCommand creates the asset command.
func NewAssetCommand() *cobra.Command {
	opts := &AssetOptions{}

	cmd := &cobra.Command{
		Use:   "asset <id>",
		Short: "Show lineage around one asset",
		Long: `Display the upstream and downstream edges of an asset.

The neighbourhood is taken from the full lineage graph; depth limits how
many hops are followed in each direction.`,
		Example: `  # Direct parents and children
  leaplineage asset analytics.public.orders

  # Two hops in each direction, as JSON
  leaplineage asset analytics.public.orders --depth 2 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsset(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.Depth, "depth", engine.DefaultDepth, "Hops to follow upstream and downstream")

	return cmd
}

func runAsset(cmd *cobra.Command, id string, opts *AssetOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	lin, err := cmdCtx.Engine.AssetLineage(cmd.Context(), id, opts.Depth)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(lin)
	}

	r.Header(lin.Asset.ID)
	r.KeyValue("type", lin.Asset.Type)
	r.KeyValue("system", lin.Asset.SourceSystem)
	r.KeyValue("connector", lin.Asset.ConnectorID)
	r.KeyValue("columns", len(lin.Asset.Columns))
	r.KeyValue("depth", lin.Depth)
	r.Println()

	r.Header("Upstream")
	r.Table(edgeHeader, edgeRows(lin.Upstream))
	r.Println()

	r.Header("Downstream")
	r.Table(edgeHeader, edgeRows(lin.Downstream))
	return nil
}

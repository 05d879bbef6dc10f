package commands

import (
	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/internal/engine"
	"github.com/spf13/cobra"
)

// GraphOptions holds options for the graph command.
type GraphOptions struct {
	Page     int
	PageSize int
	AsOf     string
	Snapshot bool
}

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	opts := &GraphOptions{}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Compute the lineage graph",
		Long: `Build the lineage graph over every active source.

Edges are inferred from view SQL, foreign keys, naming conventions and
column similarity, then merged with reconciled and curated edges from the
graph store. Each edge carries a confidence score and column mappings.`,
		Example: `  # Show the whole graph
  leaplineage graph

  # Page through nodes, 50 at a time
  leaplineage graph --page 2 --page-size 50

  # Only edges that existed at a point in time
  leaplineage graph --as-of 2024-06-01T00:00:00Z

  # Persist a signed snapshot of the result
  leaplineage graph --snapshot -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGraph(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "Nodes per page (0 = all)")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "Only include edges created at or before this time (RFC 3339)")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "Store a signed snapshot of the result")

	return cmd
}

func runGraph(cmd *cobra.Command, opts *GraphOptions) error {
	gopts := engine.GraphOptions{Page: opts.Page, PageSize: opts.PageSize, Snapshot: opts.Snapshot}
	if opts.AsOf != "" {
		t, err := parseTime(opts.AsOf)
		if err != nil {
			return err
		}
		gopts.AsOf = &t
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := cmdCtx.Engine.Graph(cmd.Context(), gopts)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(resp)
	}
	renderGraphText(r, resp)
	if opts.Snapshot {
		r.Println()
		r.Success("Snapshot stored")
	}
	return nil
}

package commands

import (
	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/spf13/cobra"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Turn ingested artifacts into stored edges",
		Long: `Convert every ingested OpenLineage, dbt, Airflow and metadata batch into
signed edges in the graph store. Running it twice yields the same edges.`,
		Args: cobra.NoArgs,
		RunE: runReconcile,
	}
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := cmdCtx.Engine.Reconcile(cmd.Context())
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(report)
	}

	rows := make([][]any, 0, len(core.BatchKinds))
	for _, kind := range core.BatchKinds {
		kr, ok := report.Kinds[kind]
		if !ok {
			continue
		}
		rows = append(rows, []any{string(kind), kr.Batches, kr.Edges, kr.Skipped})
	}
	r.Header("Reconcile")
	r.Table([]string{"Kind", "Batches", "Edges", "Skipped"}, rows)
	r.KeyValue("total edges", report.TotalEdges)
	return nil
}

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

var edgeHeader = []string{"Source", "Target", "Relationship", "Confidence", "Status", "Columns", "Sources"}

func edgeRows(edges []core.Edge) [][]any {
	rows := make([][]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, []any{
			e.Source,
			e.Target,
			e.Relationship.String(),
			fmt.Sprintf("%.2f", e.ConfidenceScore),
			string(e.ValidationStatus),
			len(e.ColumnLineage),
			strings.Join(e.Sources, ","),
		})
	}
	return rows
}

func nodeRows(nodes []core.Node) [][]any {
	rows := make([][]any, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, []any{n.ID, string(n.Type), n.SourceSystem, n.ColumnCount, n.PIIColumns})
	}
	return rows
}

func renderGraphText(r *output.Renderer, resp *core.GraphResponse) {
	r.Header("Lineage Graph")
	r.KeyValue("nodes", fmt.Sprintf("%d of %d", len(resp.Nodes), resp.TotalNodes))
	r.KeyValue("edges", fmt.Sprintf("%d of %d", len(resp.Edges), resp.TotalEdges))
	if resp.PageSize > 0 {
		r.KeyValue("page", fmt.Sprintf("%d/%d", resp.Page, resp.TotalPages))
	}
	r.KeyValue("column links", resp.ColumnRelationships)
	if resp.AsOf != nil {
		r.KeyValue("as of", resp.AsOf.Format(time.RFC3339))
	}
	r.Println()

	r.Header("Nodes")
	r.Table([]string{"ID", "Type", "System", "Columns", "PII"}, nodeRows(resp.Nodes))
	r.Println()

	r.Header("Edges")
	r.Table(edgeHeader, edgeRows(resp.Edges))
}

// parseTime accepts RFC 3339 timestamps or bare dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, core.ErrValidation("invalid time %q: want RFC 3339", s)
}

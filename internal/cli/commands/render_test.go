package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaplineage/internal/cli/testutil"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

func sampleGraph() *core.GraphResponse {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return &core.GraphResponse{
		Nodes: []core.Node{
			{ID: "raw.orders", Type: core.AssetTable, SourceSystem: "PostgreSQL", ColumnCount: 3, PIIColumns: 1},
			{ID: "mart.orders", Type: core.AssetView, SourceSystem: "PostgreSQL", ColumnCount: 2},
		},
		Edges: []core.Edge{{
			Source:           "raw.orders",
			Target:           "mart.orders",
			Relationship:     core.Relationship{Kind: core.RelFeedsInto, Annotation: "transforms: JOIN"},
			ConfidenceScore:  0.734,
			ValidationStatus: core.StatusValid,
			ColumnLineage:    []core.ColumnLineage{{SourceColumn: "id", TargetColumn: "id"}},
			Sources:          []string{"inference", "dbt"},
		}},
		TotalNodes: 5,
		TotalEdges: 1,
		Page:       1,
		PageSize:   2,
		TotalPages: 3,
		AsOf:       &asOf,
	}
}

func TestRenderGraphText(t *testing.T) {
	tr := testutil.NewTestRendererText()
	renderGraphText(tr.Renderer, sampleGraph())

	out := tr.Output()
	testutil.AssertNoANSI(t, out)
	assert.Contains(t, out, "Lineage Graph")
	assert.Contains(t, out, "2 of 5")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "2024-06-01T00:00:00Z")
	assert.Contains(t, out, "feeds_into (transforms: JOIN)")
	assert.Contains(t, out, "0.73")
	assert.Contains(t, out, "inference,dbt")
	assert.Empty(t, tr.ErrorOutput())
}

func TestRenderGraphText_EmptyTables(t *testing.T) {
	tr := testutil.NewTestRenderer("text", true)
	renderGraphText(tr.Renderer, &core.GraphResponse{})
	assert.Contains(t, tr.Output(), "Nodes")
	assert.Contains(t, tr.Output(), "(none)")
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2024-06-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)))

	got, err = parseTime("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	_, err = parseTime("June")
	var invalid *core.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestParseColumnMappings(t *testing.T) {
	got, err := parseColumnMappings("a", "b", []string{"id:order_id", " email : contact "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].SourceTable)
	assert.Equal(t, "order_id", got[0].TargetColumn)
	assert.Equal(t, "contact", got[1].TargetColumn)
	assert.Equal(t, core.ColDirectMatch, got[1].RelationshipType)

	_, err = parseColumnMappings("a", "b", []string{"id"})
	assert.Error(t, err)
}

func TestCommandMetadata(t *testing.T) {
	graph := NewGraphCommand()
	for _, name := range []string{"page", "page-size", "as-of", "snapshot"} {
		assert.NotNil(t, graph.Flags().Lookup(name), "graph flag %q", name)
	}
	assert.NotNil(t, NewAssetCommand().Flags().Lookup("depth"))
	assert.NotNil(t, NewSnapshotsCommand().Flags().Lookup("at"))
	assert.NotNil(t, NewServeCommand("test").Flags().Lookup("addr"))

	curate := NewCurateCommand()
	assert.NotNil(t, curate.PersistentFlags().Lookup("role"))
	assert.Len(t, curate.Commands(), 3)
}

func TestNewVersionCommand(t *testing.T) {
	tr := testutil.NewTestRendererText()
	cmd := NewVersionCommand("1.2.3")
	cmd.SetOut(tr.Out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, tr.Output(), "leaplineage v1.2.3")
}

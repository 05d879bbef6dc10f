package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaplineage/internal/cli/config"
	"github.com/leapstack-labs/leaplineage/internal/registry"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

const projectAssets = `
assets:
  - id: sales.raw.orders
    name: orders
    type: table
    columns:
      - name: order_id
        type: INTEGER
        mode: REQUIRED
        primary_key: true
      - name: customer_email
        type: STRING
  - id: sales.analytics.v_orders
    name: v_orders
    type: view
    sql: SELECT order_id, customer_email FROM sales.raw.orders
    columns:
      - name: order_id
        type: INTEGER
      - name: customer_email
        type: STRING
`

// setupProject writes a project with one file source and returns its config path.
func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "sales.yaml"), []byte(projectAssets), 0o644))

	cfg := `
sources:
  - id: warehouse
    type: file
    path: assets
store:
  backend: file
  path: .leaplineage/graph.json
signing:
  secret: cli-test-secret
`
	path := filepath.Join(dir, config.ConfigFileYAML)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(config.ResetConfig)

	cmd := NewRootCmd()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "leaplineage v"+Version)
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"graph", "asset", "ingest", "reconcile", "curate", "snapshots", "sources", "serve", "completion"} {
		assert.Contains(t, out, name)
	}
}

func TestCompletionCommand(t *testing.T) {
	out, err := execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "bash completion")

	_, err = execute(t, "completion", "tcsh")
	assert.Error(t, err)
}

func TestGraphCommand_JSON(t *testing.T) {
	cfgPath := setupProject(t)

	out, err := execute(t, "graph", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)

	var resp core.GraphResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.TotalNodes)
	require.Len(t, resp.Edges, 1)
	edge := resp.Edges[0]
	assert.Equal(t, "sales.raw.orders", edge.Source)
	assert.Equal(t, "sales.analytics.v_orders", edge.Target)
	assert.Equal(t, core.RelFeedsInto, edge.Relationship.Kind)
	assert.NotEmpty(t, edge.EdgeSignature)
}

func TestGraphCommand_Text(t *testing.T) {
	cfgPath := setupProject(t)

	out, err := execute(t, "graph", "--config", cfgPath, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Lineage Graph")
	assert.Contains(t, out, "sales.raw.orders")
	assert.Contains(t, out, "feeds_into")
}

func TestGraphCommand_BadAsOf(t *testing.T) {
	cfgPath := setupProject(t)
	_, err := execute(t, "graph", "--config", cfgPath, "--as-of", "last week")
	var invalid *core.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestGraphSnapshotAndList(t *testing.T) {
	cfgPath := setupProject(t)

	_, err := execute(t, "graph", "--config", cfgPath, "--snapshot", "-o", "json")
	require.NoError(t, err)

	out, err := execute(t, "snapshots", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var snaps []core.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 1)
	assert.NotEmpty(t, snaps[0].Signature)

	out, err = execute(t, "snapshots", "--config", cfgPath, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, snaps[0].ID)
	assert.Contains(t, out, "true")

	_, err = execute(t, "snapshots", "--config", cfgPath, "--at", "2000-01-01")
	var notFound *core.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestIngestReconcileAsset(t *testing.T) {
	cfgPath := setupProject(t)
	dir := filepath.Dir(cfgPath)

	airflow := filepath.Join(dir, "dag.yaml")
	require.NoError(t, os.WriteFile(airflow, []byte(`
dag_id: nightly
tasks:
  - task_id: sales.raw.orders
  - task_id: sales.analytics.v_orders
    upstream: [sales.raw.orders]
`), 0o644))

	out, err := execute(t, "ingest", "airflow", airflow, "--config", cfgPath, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored airflow batch")

	out, err = execute(t, "reconcile", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var report struct {
		TotalEdges int `json:"total_edges"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.TotalEdges)

	out, err = execute(t, "asset", "sales.analytics.v_orders", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var lin core.AssetLineage
	require.NoError(t, json.Unmarshal([]byte(out), &lin))
	require.Len(t, lin.Upstream, 1)
	assert.Equal(t, "sales.raw.orders", lin.Upstream[0].Source)
	assert.Contains(t, lin.Upstream[0].Sources, "airflow")

	_, err = execute(t, "asset", "sales.missing", "--config", cfgPath)
	var notFound *core.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestIngestQueryLog(t *testing.T) {
	cfgPath := setupProject(t)
	logs := filepath.Join(filepath.Dir(cfgPath), "queries.yaml")
	require.NoError(t, os.WriteFile(logs, []byte(`
- system: PostgreSQL
  sql: insert into v_orders select * from orders
`), 0o644))

	out, err := execute(t, "ingest", "query_log", logs, "--config", cfgPath, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored 1 query log entries")
}

func TestIngest_UnknownKind(t *testing.T) {
	cfgPath := setupProject(t)
	_, err := execute(t, "ingest", "spreadsheet", cfgPath, "--config", cfgPath)
	var invalid *core.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestCurateFlow(t *testing.T) {
	cfgPath := setupProject(t)

	_, err := execute(t, "curate", "propose", "sales.analytics.v_orders", "sales.raw.orders", "--config", cfgPath)
	var denied *core.AuthorizationDeniedError
	require.ErrorAs(t, err, &denied)

	out, err := execute(t, "curate", "propose", "sales.analytics.v_orders", "sales.raw.orders",
		"--role", "admin", "--column", "order_id:order_id", "--notes", "backfill", "--config", cfgPath, "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Proposed sales.analytics.v_orders -> sales.raw.orders")

	_, err = execute(t, "curate", "propose", "a", "b", "--role", "admin", "--column", "broken", "--config", cfgPath)
	var invalid *core.ValidationError
	assert.ErrorAs(t, err, &invalid)

	out, err = execute(t, "curate", "approve", "sales.analytics.v_orders", "sales.raw.orders", "--role", "admin", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var edge core.Edge
	require.NoError(t, json.Unmarshal([]byte(out), &edge))
	assert.InDelta(t, 0.95, edge.ConfidenceScore, 1e-9)
	require.Len(t, edge.ColumnLineage, 1)

	out, err = execute(t, "curate", "list", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var proposals []core.CurationProposal
	require.NoError(t, json.Unmarshal([]byte(out), &proposals))
	require.Len(t, proposals, 1)
	assert.Equal(t, core.ProposalApproved, proposals[0].Status)
	assert.Equal(t, "backfill", proposals[0].Notes)
}

func TestSourcesCommand(t *testing.T) {
	cfgPath := setupProject(t)

	out, err := execute(t, "sources", "--config", cfgPath, "-o", "json")
	require.NoError(t, err)
	var sources []registry.SourceInfo
	require.NoError(t, json.Unmarshal([]byte(out), &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "warehouse", sources[0].ID)
	assert.True(t, sources[0].Available)

	out, err = execute(t, "sources", "--config", cfgPath, "-o", "text")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "warehouse"))
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.ConfigFileYAML)
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - id: x\n    type: oracle\n"), 0o644))

	_, err := execute(t, "graph", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

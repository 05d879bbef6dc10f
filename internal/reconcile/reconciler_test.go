package reconcile

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/curation"
	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/internal/state"
	"github.com/leapstack-labs/leaplineage/internal/testutil"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newReconciler(t *testing.T) (*Reconciler, *state.FileStore) {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "graph.json"))
	require.NoError(t, err)
	r := New(Config{
		Store:  store,
		Signer: provenance.NewSigner("secret"),
		Logger: testutil.NewTestLogger(t),
		Now:    func() time.Time { return fixedNow },
	})
	return r, store
}

func edgeMap(edges []core.Edge) map[core.EdgeKey]core.Edge {
	m := make(map[core.EdgeKey]core.Edge, len(edges))
	for _, e := range edges {
		m[e.Key()] = e
	}
	return m
}

func TestReconcile_DBT(t *testing.T) {
	ctx := context.Background()
	r, store := newReconciler(t)

	_, err := r.Ingest(ctx, core.BatchDBT, json.RawMessage(`{"nodes":[{"name":"b","depends_on":["a"]}]}`))
	require.NoError(t, err)

	// Ingestion alone never creates edges.
	edges, err := store.Edges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)

	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalEdges)
	assert.Equal(t, 1, report.Kinds[core.BatchDBT].Edges)

	edges, err = store.Edges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Equal(t, "a", e.Source)
	assert.Equal(t, "b", e.Target)
	assert.Equal(t, core.RelDBTDependency, e.Relationship.Kind)
	assert.InDelta(t, 0.75, e.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"dbt"}, e.Evidence)
	assert.Equal(t, []string{"dbt"}, e.Sources)
	assert.Equal(t, core.StatusValid, e.ValidationStatus)
	assert.True(t, provenance.NewSigner("secret").Verify(e))
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	r, store := newReconciler(t)

	_, err := r.Ingest(ctx, core.BatchDBT, json.RawMessage(`{"nodes":[{"name":"b","depends_on":["a"]}]}`))
	require.NoError(t, err)

	_, err = r.Reconcile(ctx)
	require.NoError(t, err)
	first, err := store.Edges(ctx)
	require.NoError(t, err)

	_, err = r.Reconcile(ctx)
	require.NoError(t, err)
	second, err := store.Edges(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReconcile_AllKinds(t *testing.T) {
	ctx := context.Background()
	r, store := newReconciler(t)

	payloads := map[core.BatchKind]string{
		core.BatchOpenLineage: `{"eventTime":"2024-01-02T03:04:05Z","job":{"namespace":"etl","name":"load_orders"},
			"inputs":[{"namespace":"bq","name":"raw.orders"}],"outputs":[{"namespace":"bq","name":"stg.orders"}]}`,
		core.BatchDBT: `{"nodes":{"model.shop.fct_orders":{"depends_on":{"nodes":["model.shop.stg_orders"]}}}}`,
		core.BatchAirflow: `{"dag_id":"daily","tasks":[{"task_id":"stg.orders","upstream_task_ids":["raw.orders"]},
			{"task_id":"mart.orders","upstream":["stg.orders"]}]}`,
		core.BatchMetadata: `{"relationships":[{"source":"crm.contacts","target":"mart.customers","relationship":"sync"},
			{"source":"crm.leads"}]}`,
	}
	for _, kind := range core.BatchKinds {
		_, err := r.Ingest(ctx, kind, json.RawMessage(payloads[kind]))
		require.NoError(t, err)
	}

	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Kinds[core.BatchMetadata].Skipped)
	assert.Equal(t, 1, report.Kinds[core.BatchMetadata].Edges)
	assert.Equal(t, 1, report.Kinds[core.BatchAirflow].Edges, "raw.orders -> stg.orders merges into the openlineage edge")

	edges, err := store.Edges(ctx)
	require.NoError(t, err)
	byKey := edgeMap(edges)
	require.Len(t, byKey, 4)

	ol := byKey[core.EdgeKey{Source: "raw.orders", Target: "stg.orders"}]
	assert.Equal(t, "openlineage (load_orders)", ol.Relationship.String())
	assert.InDelta(t, 0.8, ol.ConfidenceScore, 1e-9)
	assert.True(t, ol.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, []string{"openlineage", "airflow"}, ol.Sources)
	assert.Equal(t, []string{"openlineage", "airflow"}, ol.Evidence)

	dbt := byKey[core.EdgeKey{Source: "model.shop.stg_orders", Target: "model.shop.fct_orders"}]
	assert.Equal(t, core.RelDBTDependency, dbt.Relationship.Kind)
	assert.True(t, dbt.CreatedAt.Equal(fixedNow))

	af := byKey[core.EdgeKey{Source: "stg.orders", Target: "mart.orders"}]
	assert.Equal(t, "airflow_dependency (daily)", af.Relationship.String())
	assert.InDelta(t, 0.6, af.ConfidenceScore, 1e-9)

	md := byKey[core.EdgeKey{Source: "crm.contacts", Target: "mart.customers"}]
	assert.Equal(t, "metadata_relationship (sync)", md.Relationship.String())
	assert.InDelta(t, 0.7, md.ConfidenceScore, 1e-9)
}

func TestReconcile_MalformedBatchSkipped(t *testing.T) {
	ctx := context.Background()
	r, _ := newReconciler(t)

	_, err := r.Ingest(ctx, core.BatchDBT, json.RawMessage(`{"models":[]}`))
	require.NoError(t, err)
	_, err = r.Ingest(ctx, core.BatchAirflow, json.RawMessage(`[{"upstream":["a"]}, {"task_id":"b","upstream":["a"]}]`))
	require.NoError(t, err)

	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Kinds[core.BatchDBT].Skipped)
	assert.Equal(t, 1, report.Kinds[core.BatchAirflow].Skipped)
	assert.Equal(t, 1, report.TotalEdges)
}

func TestIngest_Validation(t *testing.T) {
	ctx := context.Background()
	r, _ := newReconciler(t)

	_, err := r.Ingest(ctx, core.BatchKind("spark"), json.RawMessage(`{}`))
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = r.Ingest(ctx, core.BatchDBT, json.RawMessage(`{nope`))
	var merr *core.MalformedArtifactError
	require.ErrorAs(t, err, &merr)
}

func TestIngestQueryLog(t *testing.T) {
	ctx := context.Background()
	r, store := newReconciler(t)

	require.NoError(t, r.IngestQueryLog(ctx, []core.QueryLogEntry{{System: "bq", SQL: "select * from a join b"}}))
	logs, err := store.QueryLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Timestamp.Equal(fixedNow))

	err = r.IngestQueryLog(ctx, []core.QueryLogEntry{{System: "bq"}})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestReconcile_KeepsCuratedEdge(t *testing.T) {
	ctx := context.Background()
	r, store := newReconciler(t)
	signer := provenance.NewSigner("secret")

	svc := curation.NewService(curation.Config{
		Store:  store,
		Signer: signer,
		Logger: testutil.NewTestLogger(t),
		Now:    func() time.Time { return fixedNow.Add(-time.Hour) },
	})
	_, err := svc.Propose(ctx, "admin", core.CurationProposal{Source: "a", Target: "b"})
	require.NoError(t, err)
	curated, err := svc.Approve(ctx, "admin", "a", "b")
	require.NoError(t, err)

	_, err = r.Ingest(ctx, core.BatchDBT, json.RawMessage(`{"nodes":[{"name":"b","depends_on":["a"]},{"name":"c","depends_on":["b"]}]}`))
	require.NoError(t, err)
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalEdges)

	edges, err := store.Edges(ctx)
	require.NoError(t, err)
	byKey := edgeMap(edges)
	require.Len(t, byKey, 2)

	e := byKey[core.EdgeKey{Source: "a", Target: "b"}]
	assert.Equal(t, core.RelManual, e.Relationship.Kind)
	assert.InDelta(t, 0.95, e.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"manual_curation", "dbt"}, e.Evidence)
	assert.Equal(t, []string{"curation", "dbt"}, e.Sources)
	assert.True(t, e.CreatedAt.Equal(curated.CreatedAt))
	assert.Equal(t, curated.EdgeSignature, e.EdgeSignature)
	assert.True(t, signer.Verify(e))
	assert.True(t, e.UpdatedAt.Equal(fixedNow))

	plain := byKey[core.EdgeKey{Source: "b", Target: "c"}]
	assert.Equal(t, core.RelDBTDependency, plain.Relationship.Kind)

	// a second run changes nothing
	_, err = r.Reconcile(ctx)
	require.NoError(t, err)
	again, err := store.Edges(ctx)
	require.NoError(t, err)
	assert.Equal(t, edges, again)
}

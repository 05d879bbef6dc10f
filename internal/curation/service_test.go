package curation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/internal/state"
	"github.com/leapstack-labs/leaplineage/internal/testutil"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, role string) (*Service, *state.FileStore) {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "graph.json"))
	require.NoError(t, err)
	return NewService(Config{
		Store:        store,
		Signer:       provenance.NewSigner("k"),
		Logger:       testutil.NewTestLogger(t),
		RequiredRole: role,
		Now:          func() time.Time { return fixedNow },
	}), store
}

func TestService_ProposeApprove(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, "")

	p, err := svc.Propose(ctx, "admin", core.CurationProposal{Source: "a", Target: "b", Notes: "from docs"})
	require.NoError(t, err)
	assert.Equal(t, core.ProposalProposed, p.Status)
	assert.Equal(t, core.RelManual, p.Relationship.Kind)
	assert.NotEmpty(t, p.ID)

	e, err := svc.Approve(ctx, "admin", "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, e.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"manual_curation"}, e.Evidence)
	assert.Equal(t, []string{"curation"}, e.Sources)
	assert.Equal(t, core.StatusValid, e.ValidationStatus)
	assert.True(t, provenance.NewSigner("k").Verify(e))

	edges, err := store.Edges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, e.EdgeSignature, edges[0].EdgeSignature)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.ProposalApproved, list[0].Status)
	require.NotNil(t, list[0].ApprovedAt)
}

func TestService_RoleGate(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, "steward")

	var denied *core.AuthorizationDeniedError
	for _, role := range []string{"", "admin", "Steward", "steward "} {
		_, err := svc.Propose(ctx, role, core.CurationProposal{Source: "a", Target: "b"})
		require.ErrorAs(t, err, &denied, "role %q", role)
	}
	_, err := svc.Approve(ctx, "admin", "a", "b")
	require.ErrorAs(t, err, &denied)

	list, err := store.Proposals(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Propose(ctx, "steward", core.CurationProposal{Source: "a", Target: "b"})
	require.NoError(t, err)
}

func TestService_ApproveMissing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, "")

	_, err := svc.Propose(ctx, "admin", core.CurationProposal{Source: "a", Target: "b"})
	require.NoError(t, err)
	before, err := svc.List(ctx)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "admin", "x", "y")
	var notFound *core.ProposalNotFoundError
	require.ErrorAs(t, err, &notFound)

	after, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestService_ProposeValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, "")

	cases := []core.CurationProposal{
		{Source: "", Target: "b"},
		{Source: "a", Target: " "},
		{Source: "a", Target: "a"},
		{Source: "a", Target: "b", Relationship: core.Rel("copied_by_hand")},
	}
	for _, p := range cases {
		_, err := svc.Propose(ctx, "admin", p)
		var verr *core.ValidationError
		require.ErrorAs(t, err, &verr)
	}
}

func TestMaterialize_Aggregates(t *testing.T) {
	p := core.CurationProposal{
		Source: "a", Target: "b", Relationship: core.Rel(core.RelManual), ProposedAt: fixedNow,
		ColumnLineage: []core.ColumnLineage{
			{SourceColumn: "email", TargetColumn: "email", ContainsPII: true, PIITier: core.PIIHigh, DataQualityScore: 80},
			{SourceColumn: "n", TargetColumn: "n", DataQualityScore: 60},
		},
	}
	e := Materialize(p, fixedNow)
	assert.Equal(t, 1, e.TotalPIIColumns)
	assert.InDelta(t, 70.0, e.AvgDataQuality, 1e-9)
	assert.Empty(t, e.EdgeSignature)

	e = Materialize(core.CurationProposal{Source: "a", Target: "b"}, fixedNow)
	assert.InDelta(t, 95.0, e.AvgDataQuality, 1e-9)
	assert.NotNil(t, e.ColumnLineage)
}

// flakyStore fails edge writes while failEdges is set.
type flakyStore struct {
	core.GraphStore
	failEdges bool
}

func (f *flakyStore) UpsertEdges(ctx context.Context, edges []core.Edge) error {
	if f.failEdges {
		return errors.New("disk full")
	}
	return f.GraphStore.UpsertEdges(ctx, edges)
}

func TestService_ApproveEdgeWriteFailure(t *testing.T) {
	ctx := context.Background()
	files, err := state.NewFileStore(filepath.Join(t.TempDir(), "graph.json"))
	require.NoError(t, err)
	store := &flakyStore{GraphStore: files, failEdges: true}
	svc := NewService(Config{
		Store:  store,
		Signer: provenance.NewSigner("k"),
		Logger: testutil.NewTestLogger(t),
		Now:    func() time.Time { return fixedNow },
	})

	_, err = svc.Propose(ctx, "admin", core.CurationProposal{Source: "a", Target: "b"})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "admin", "a", "b")
	require.ErrorContains(t, err, "disk full")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.ProposalProposed, list[0].Status)
	assert.Nil(t, list[0].ApprovedAt)

	// the proposal is still pending, so a retry goes through
	store.failEdges = false
	e, err := svc.Approve(ctx, "admin", "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, e.ConfidenceScore, 1e-9)

	edges, err := files.Edges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.ProposalApproved, list[0].Status)
}

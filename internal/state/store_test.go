package state

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/testutil"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) core.GraphStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"file": func(t *testing.T) core.GraphStore {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "graph.json"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) core.GraphStore {
			s, err := OpenSQLite(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func edge(source, target string, confidence float64) core.Edge {
	return core.Edge{
		Source:           source,
		Target:           target,
		Relationship:     core.Rel(core.RelDBTDependency),
		ConfidenceScore:  confidence,
		ValidationStatus: core.StatusValid,
		Evidence:         []string{"dbt"},
		Sources:          []string{"dbt"},
		CreatedAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestGraphStore_UpsertEdgesIdempotent(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			require.NoError(t, s.UpsertEdges(ctx, []core.Edge{edge("a", "b", 0.7), edge("b", "c", 0.6)}))
			require.NoError(t, s.UpsertEdges(ctx, []core.Edge{edge("a", "b", 0.9)}))
			require.NoError(t, s.UpsertEdges(ctx, []core.Edge{edge("a", "b", 0.9)}))

			got, err := s.Edges(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].Source)
			assert.InDelta(t, 0.9, got[0].ConfidenceScore, 1e-9)
			assert.Equal(t, core.RelDBTDependency, got[0].Relationship.Kind)
			assert.True(t, got[0].CreatedAt.Equal(edge("a", "b", 0).CreatedAt))
		})
	}
}

func TestGraphStore_Nodes(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.UpsertNodes(ctx, []core.Node{{ID: "b", Name: "b"}, {ID: "a", Name: "a"}}))
			require.NoError(t, s.UpsertNodes(ctx, []core.Node{{ID: "a", Name: "renamed"}}))

			lister, ok := s.(interface {
				Nodes(context.Context) ([]core.Node, error)
			})
			require.True(t, ok)
			nodes, err := lister.Nodes(ctx)
			require.NoError(t, err)
			require.Len(t, nodes, 2)
			assert.Equal(t, "renamed", nodes[0].Name)
		})
	}
}

func TestGraphStore_SnapshotsBatchesQueryLogs(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

			require.NoError(t, s.AppendSnapshot(ctx, core.Snapshot{ID: "s1", CreatedAt: at, Data: json.RawMessage(`{"nodes":[]}`)}))
			require.NoError(t, s.AppendSnapshot(ctx, core.Snapshot{ID: "s2", CreatedAt: at.Add(time.Hour), Data: json.RawMessage(`{}`), Signature: "sig"}))
			snaps, err := s.Snapshots(ctx)
			require.NoError(t, err)
			require.Len(t, snaps, 2)
			assert.Equal(t, "s1", snaps[0].ID)
			assert.Equal(t, "sig", snaps[1].Signature)
			assert.JSONEq(t, `{"nodes":[]}`, string(snaps[0].Data))

			require.NoError(t, s.SaveBatch(ctx, core.RawBatch{ID: "b1", Kind: core.BatchDBT, ReceivedAt: at, Payload: json.RawMessage(`{"nodes":[]}`)}))
			require.NoError(t, s.SaveBatch(ctx, core.RawBatch{ID: "b2", Kind: core.BatchAirflow, ReceivedAt: at, Payload: json.RawMessage(`[]`)}))
			dbt, err := s.Batches(ctx, core.BatchDBT)
			require.NoError(t, err)
			require.Len(t, dbt, 1)
			assert.Equal(t, "b1", dbt[0].ID)
			none, err := s.Batches(ctx, core.BatchMetadata)
			require.NoError(t, err)
			assert.Empty(t, none)

			require.NoError(t, s.AppendQueryLogs(ctx, []core.QueryLogEntry{
				{System: "bq", SQL: "select 1", Timestamp: at},
				{System: "bq", SQL: "select 2", Timestamp: at},
			}))
			logs, err := s.QueryLogs(ctx)
			require.NoError(t, err)
			require.Len(t, logs, 2)
			assert.Equal(t, "select 2", logs[1].SQL)
		})
	}
}

func TestGraphStore_Proposals(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
			p := core.CurationProposal{
				ID: "p1", Source: "a", Target: "b", Relationship: core.Rel(core.RelManual),
				ProposedAt: at, Status: core.ProposalProposed,
			}
			require.NoError(t, s.SaveProposal(ctx, p))

			p.ID = "p2"
			p.Notes = "second"
			require.NoError(t, s.SaveProposal(ctx, p))

			list, err := s.Proposals(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "second", list[0].Notes)

			_, err = s.ApproveProposal(ctx, "a", "c", at)
			var notFound *core.ProposalNotFoundError
			require.ErrorAs(t, err, &notFound)
			after, err := s.Proposals(ctx)
			require.NoError(t, err)
			assert.Equal(t, list, after)

			approved, err := s.ApproveProposal(ctx, "a", "b", at.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, core.ProposalApproved, approved.Status)
			require.NotNil(t, approved.ApprovedAt)
			assert.True(t, approved.ApprovedAt.Equal(at.Add(time.Hour)))

			_, err = s.ApproveProposal(ctx, "a", "b", at)
			require.ErrorAs(t, err, &notFound)

			// A new proposal for an approved pair is a separate entry.
			p.ID = "p3"
			require.NoError(t, s.SaveProposal(ctx, p))
			list, err = s.Proposals(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)
		})
	}
}

func TestFileStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "graph.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertEdges(ctx, []core.Edge{edge("a", "b", 0.5)}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Edges(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileStore_SharedPathWriters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.json")
	first, err := NewFileStore(path)
	require.NoError(t, err)
	second, err := NewFileStore(path)
	require.NoError(t, err)
	defer func() { _ = first.Close(); _ = second.Close() }()

	const perStore = 50
	var wg sync.WaitGroup
	for _, s := range []*FileStore{first, second} {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(s *FileStore, i int) {
				defer wg.Done()
				entry := core.QueryLogEntry{System: "bq", SQL: fmt.Sprintf("SELECT %d", i), Timestamp: time.Now()}
				assert.NoError(t, s.AppendQueryLogs(ctx, []core.QueryLogEntry{entry}))
			}(s, i)
		}
	}
	wg.Wait()

	logs, err := first.QueryLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 2*perStore)
}

func TestFileStore_LockHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	holder, err := NewFileStore(path)
	require.NoError(t, err)
	waiter, err := NewFileStore(path)
	require.NoError(t, err)

	release := make(chan struct{})
	locked := make(chan struct{})
	go func() {
		_ = holder.update(context.Background(), func(*fileDoc) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = waiter.AppendQueryLogs(ctx, []core.QueryLogEntry{{SQL: "SELECT 1"}})
	require.Error(t, err)

	close(release)
	require.NoError(t, waiter.AppendQueryLogs(context.Background(), []core.QueryLogEntry{{SQL: "SELECT 1"}}))
}

func TestOpen_Selection(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)
	dir := t.TempDir()

	s, err := Open(ctx, Config{Path: filepath.Join(dir, "graph.json")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Config{Backend: BackendSQLite, Path: filepath.Join(dir, "graph.json"), DSN: filepath.Join(dir, "graph.db")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	// Unreachable backends fall back to the file store.
	s, err = Open(ctx, Config{Backend: BackendPostgres, Path: filepath.Join(dir, "graph.json")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Config{Backend: BackendNeo4j, Path: filepath.Join(dir, "graph.json")}, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, Config{Backend: "cassandra"}, logger)
	var unknown *core.UnknownBackendError
	require.ErrorAs(t, err, &unknown)
}

func TestMigrate_SQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "graph.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	version, err := MigrationVersion(s.DB(), DialectSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// re-running is a no-op
	require.NoError(t, Migrate(s.DB(), DialectSQLite))

	_, err = MigrationVersion(nil, DialectSQLite)
	assert.Error(t, err)
}

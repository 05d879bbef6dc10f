package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// DefaultFilePath is where the file backend keeps its document.
const DefaultFilePath = ".leaplineage/graph.json"

// fileDoc is the persisted layout of the file backend.
type fileDoc struct {
	Nodes      map[string]core.Node               `json:"nodes"`
	Edges      []core.Edge                        `json:"edges"`
	RawBatches map[core.BatchKind][]core.RawBatch `json:"raw_batches"`
	Snapshots  []core.Snapshot                    `json:"snapshots"`
	Proposals  []core.CurationProposal            `json:"proposals"`
	QueryLogs  []core.QueryLogEntry               `json:"query_logs"`
}

// lockRetry is how often a blocked store retries the file lock.
const lockRetry = 10 * time.Millisecond

// FileStore implements core.GraphStore as a single JSON document. Every
// mutation is a read-modify-write under an exclusive advisory lock on a
// sidecar ".lock" file, written to a temp file in the same directory and
// renamed over the original. Several stores, in one process or many, may
// share a path.
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// NewFileStore creates a file store at path. The file is created on first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

// Close releases the lock file handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

func (s *FileStore) load() (*fileDoc, error) {
	doc := &fileDoc{}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read store: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode store %s: %w", s.path, err)
		}
	}
	if doc.Nodes == nil {
		doc.Nodes = make(map[string]core.Node)
	}
	if doc.RawBatches == nil {
		doc.RawBatches = make(map[core.BatchKind][]core.RawBatch)
	}
	return doc, nil
}

func (s *FileStore) save(doc *fileDoc) error {
	// Compact encoding keeps raw snapshot payloads byte-identical for signature checks.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".graph-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// locked runs fn holding the in-process mutex and the file lock, shared
// when exclusive is false.
func (s *FileStore) locked(ctx context.Context, exclusive bool, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acquire := s.lock.TryRLockContext
	if exclusive {
		acquire = s.lock.TryLockContext
	}
	ok, err := acquire(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock store %s: %w", s.path, err)
	}
	if !ok {
		return fmt.Errorf("lock store %s: not acquired", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// update runs fn on the loaded document and persists it when fn succeeds.
func (s *FileStore) update(ctx context.Context, fn func(doc *fileDoc) error) error {
	return s.locked(ctx, true, func() error {
		return s.modify(fn)
	})
}

func (s *FileStore) modify(fn func(doc *fileDoc) error) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *FileStore) read(ctx context.Context) (*fileDoc, error) {
	var doc *fileDoc
	err := s.locked(ctx, false, func() error {
		var err error
		doc, err = s.load()
		return err
	})
	return doc, err
}

// UpsertNodes inserts or replaces nodes by id.
func (s *FileStore) UpsertNodes(ctx context.Context, nodes []core.Node) error {
	return s.update(ctx, func(doc *fileDoc) error {
		for _, n := range nodes {
			doc.Nodes[n.ID] = n
		}
		return nil
	})
}

// Nodes returns all stored nodes ordered by id.
func (s *FileStore) Nodes(ctx context.Context) ([]core.Node, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Node, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertEdges inserts or replaces edges by (source, target), keeping the
// position of replaced edges.
func (s *FileStore) UpsertEdges(ctx context.Context, edges []core.Edge) error {
	return s.update(ctx, func(doc *fileDoc) error {
		index := make(map[core.EdgeKey]int, len(doc.Edges))
		for i, e := range doc.Edges {
			index[e.Key()] = i
		}
		for _, e := range edges {
			if i, ok := index[e.Key()]; ok {
				doc.Edges[i] = e
				continue
			}
			index[e.Key()] = len(doc.Edges)
			doc.Edges = append(doc.Edges, e)
		}
		return nil
	})
}

// Edges returns all stored edges.
func (s *FileStore) Edges(ctx context.Context) ([]core.Edge, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Edges, nil
}

// AppendSnapshot appends a snapshot.
func (s *FileStore) AppendSnapshot(ctx context.Context, snap core.Snapshot) error {
	return s.update(ctx, func(doc *fileDoc) error {
		doc.Snapshots = append(doc.Snapshots, snap)
		return nil
	})
}

// Snapshots returns all snapshots, oldest first.
func (s *FileStore) Snapshots(ctx context.Context) ([]core.Snapshot, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Snapshots, nil
}

// SaveBatch stores a raw artifact under its kind.
func (s *FileStore) SaveBatch(ctx context.Context, batch core.RawBatch) error {
	return s.update(ctx, func(doc *fileDoc) error {
		doc.RawBatches[batch.Kind] = append(doc.RawBatches[batch.Kind], batch)
		return nil
	})
}

// Batches returns the stored artifacts of one kind in arrival order.
func (s *FileStore) Batches(ctx context.Context, kind core.BatchKind) ([]core.RawBatch, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.RawBatches[kind], nil
}

// AppendQueryLogs appends query-log entries.
func (s *FileStore) AppendQueryLogs(ctx context.Context, entries []core.QueryLogEntry) error {
	return s.update(ctx, func(doc *fileDoc) error {
		doc.QueryLogs = append(doc.QueryLogs, entries...)
		return nil
	})
}

// QueryLogs returns all query-log entries in arrival order.
func (s *FileStore) QueryLogs(ctx context.Context) ([]core.QueryLogEntry, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.QueryLogs, nil
}

// SaveProposal stores a proposal. A pending proposal for the same pair is
// replaced in place.
func (s *FileStore) SaveProposal(ctx context.Context, p core.CurationProposal) error {
	return s.update(ctx, func(doc *fileDoc) error {
		if p.Status == core.ProposalProposed {
			for i, existing := range doc.Proposals {
				if existing.Source == p.Source && existing.Target == p.Target && existing.Status == core.ProposalProposed {
					doc.Proposals[i] = p
					return nil
				}
			}
		}
		doc.Proposals = append(doc.Proposals, p)
		return nil
	})
}

// Proposals returns the flat proposal list.
func (s *FileStore) Proposals(ctx context.Context) ([]core.CurationProposal, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Proposals, nil
}

// ApproveProposal flips the first pending proposal for the pair to approved.
// Nothing is written when there is none.
func (s *FileStore) ApproveProposal(ctx context.Context, source, target string, at time.Time) (core.CurationProposal, error) {
	var approved core.CurationProposal
	err := s.update(ctx, func(doc *fileDoc) error {
		for i, p := range doc.Proposals {
			if p.Source != source || p.Target != target || p.Status != core.ProposalProposed {
				continue
			}
			approvedAt := at.UTC()
			p.Status = core.ProposalApproved
			p.ApprovedAt = &approvedAt
			doc.Proposals[i] = p
			approved = p
			return nil
		}
		return &core.ProposalNotFoundError{Source: source, Target: target}
	})
	if err != nil {
		return core.CurationProposal{}, err
	}
	return approved, nil
}

package core

import (
	"context"
	"time"
)

// AssetRegistry supplies the node set. Implementations must only return
// assets of the given active sources; the assembler filters again regardless.
type AssetRegistry interface {
	ListAssets(ctx context.Context, activeSources []string) ([]Asset, error)
}

// SQLFetcher retrieves a view body that was not inlined in the asset.
type SQLFetcher interface {
	FetchSQL(ctx context.Context, asset Asset) (string, error)
}

// GraphStore defines persistence for nodes, edges, snapshots, ingested
// artifacts and curation proposals. Every method must be safe for
// concurrent use; upserts are idempotent by node id and edge (source, target).
type GraphStore interface {
	UpsertNodes(ctx context.Context, nodes []Node) error
	UpsertEdges(ctx context.Context, edges []Edge) error
	Edges(ctx context.Context) ([]Edge, error)

	// Snapshot log (append-only)
	AppendSnapshot(ctx context.Context, snap Snapshot) error
	Snapshots(ctx context.Context) ([]Snapshot, error)

	// Ingested artifacts
	SaveBatch(ctx context.Context, batch RawBatch) error
	Batches(ctx context.Context, kind BatchKind) ([]RawBatch, error)
	AppendQueryLogs(ctx context.Context, entries []QueryLogEntry) error
	QueryLogs(ctx context.Context) ([]QueryLogEntry, error)

	// Curation proposals
	SaveProposal(ctx context.Context, p CurationProposal) error
	Proposals(ctx context.Context) ([]CurationProposal, error)
	// ApproveProposal atomically flips the proposed entry for (source, target)
	// to approved. It returns *ProposalNotFoundError and leaves the list
	// unchanged when no such entry exists.
	ApproveProposal(ctx context.Context, source, target string, at time.Time) (CurationProposal, error)

	Close() error
}

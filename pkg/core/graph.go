package core

import (
	"encoding/json"
	"time"
)

// GraphResponse is the computed lineage graph returned to callers.
type GraphResponse struct {
	Nodes               []Node     `json:"nodes"`
	Edges               []Edge     `json:"edges"`
	TotalNodes          int        `json:"total_nodes"`
	TotalEdges          int        `json:"total_edges"`
	Page                int        `json:"page"`
	PageSize            int        `json:"page_size"`
	TotalPages          int        `json:"total_pages"`
	ColumnRelationships int        `json:"column_relationships"`
	AsOf                *time.Time `json:"as_of,omitempty"`
	GeneratedAt         time.Time  `json:"generated_at"`
}

// Snapshot is an immutable copy of a computed graph response.
type Snapshot struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

// AssetLineage is the neighbourhood of one asset.
type AssetLineage struct {
	Asset      Asset  `json:"asset"`
	Upstream   []Edge `json:"upstream"`
	Downstream []Edge `json:"downstream"`
	Depth      int    `json:"depth"`
}

// ProposalStatus is the lifecycle state of a curation proposal.
type ProposalStatus string

// Proposal statuses.
const (
	ProposalProposed ProposalStatus = "proposed"
	ProposalApproved ProposalStatus = "approved"
)

// CurationProposal is a human-asserted edge awaiting approval.
type CurationProposal struct {
	ID            string          `json:"id"`
	Source        string          `json:"source"`
	Target        string          `json:"target"`
	Relationship  Relationship    `json:"relationship"`
	ColumnLineage []ColumnLineage `json:"column_lineage"`
	ProposedBy    string          `json:"proposed_by,omitempty"`
	ProposedAt    time.Time       `json:"proposed_at"`
	Status        ProposalStatus  `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
}

// BatchKind names a reconciler source.
type BatchKind string

// Batch kinds.
const (
	BatchOpenLineage BatchKind = "openlineage"
	BatchDBT         BatchKind = "dbt"
	BatchAirflow     BatchKind = "airflow"
	BatchMetadata    BatchKind = "metadata"
)

// BatchKinds lists the reconciler sources in reconcile order.
var BatchKinds = []BatchKind{BatchOpenLineage, BatchDBT, BatchAirflow, BatchMetadata}

// Valid reports whether k is a known batch kind.
func (k BatchKind) Valid() bool {
	for _, known := range BatchKinds {
		if k == known {
			return true
		}
	}
	return false
}

// RawBatch is an ingested, not yet reconciled artifact.
type RawBatch struct {
	ID         string          `json:"id"`
	Kind       BatchKind       `json:"kind"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// QueryLogEntry is one logged statement used as lineage evidence.
type QueryLogEntry struct {
	System    string    `json:"system"`
	SQL       string    `json:"sql"`
	Timestamp time.Time `json:"timestamp"`
}

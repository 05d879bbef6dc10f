// Package core defines the shared language of the lineage engine.
//
// This package contains:
//   - Domain entities (Asset, Edge, ColumnLineage, Snapshot, CurationProposal)
//   - Service interfaces (AssetRegistry, SQLFetcher, GraphStore)
//   - The error taxonomy shared by every component
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
